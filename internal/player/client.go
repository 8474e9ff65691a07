package player

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the HTTP implementation of SessionAPI against the lectern
// playback endpoints, authenticated with a bearer access token.
type Client struct {
	baseURL     string
	accessToken string
	http        *http.Client
}

func NewClient(baseURL, accessToken string) *Client {
	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		http:        &http.Client{Timeout: 10 * time.Second},
	}
}

type sessionResponse struct {
	SignedURL       string `json:"signedUrl"`
	WatermarkText   string `json:"watermarkText"`
	WatermarkCourse string `json:"watermarkCourse"`
	ExpiresIn       int    `json:"expiresIn"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) RequestSession(ctx context.Context, lectureID string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/lectures/%s/play", c.baseURL, lectureID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read session response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var denial errorResponse
		if json.Unmarshal(body, &denial) == nil && denial.Code != "" {
			return nil, &DenialError{Code: denial.Code, Message: denial.Error}
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, &DenialError{Code: "lecture_not_found", Message: "lecture not found"}
		}
		return nil, fmt.Errorf("session request failed with status %d", resp.StatusCode)
	}

	var session sessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	return &Session{
		SignedURL:       session.SignedURL,
		WatermarkText:   session.WatermarkText,
		WatermarkCourse: session.WatermarkCourse,
		ExpiresAt:       time.Now().Add(time.Duration(session.ExpiresIn) * time.Second),
	}, nil
}

func (c *Client) SubmitCheckpoint(ctx context.Context, lectureID string, positionSeconds int) error {
	payload, err := json.Marshal(map[string]int{"positionSeconds": positionSeconds})
	if err != nil {
		return err
	}
	return c.post(ctx,
		fmt.Sprintf("%s/api/lectures/%s/checkpoint", c.baseURL, lectureID), payload)
}

func (c *Client) RequestCompletion(ctx context.Context, lectureID string) error {
	return c.post(ctx,
		fmt.Sprintf("%s/api/lectures/%s/complete", c.baseURL, lectureID), nil)
}

func (c *Client) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request to %s failed with status %d", url, resp.StatusCode)
	}
	return nil
}

package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

type Config struct {
	BaseURL    string
	Username   string
	Password   string
	TemplateID int
}

// Client sends transactional mail through a listmonk instance. With no
// BaseURL configured it logs the notification instead, which keeps local
// development working without a mail server.
type Client struct {
	config Config
	http   *http.Client
}

func New(cfg Config) *Client {
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

type txRequest struct {
	SubscriberEmail string            `json:"subscriber_email"`
	TemplateID      int               `json:"template_id"`
	Data            map[string]string `json:"data"`
	ContentType     string            `json:"content_type"`
}

func (c *Client) SendEnrollmentRequested(ctx context.Context, _, ownerEmail, ownerName, studentName, courseTitle string) error {
	if c.config.BaseURL == "" {
		log.Printf("email not configured — %s requested enrollment in %q", studentName, courseTitle)
		return nil
	}
	return c.sendTx(ctx, ownerEmail, map[string]string{
		"kind":        "enrollment_requested",
		"name":        ownerName,
		"studentName": studentName,
		"courseTitle": courseTitle,
	})
}

func (c *Client) SendEnrollmentApproved(ctx context.Context, toEmail, toName, courseTitle, courseURL string) error {
	if c.config.BaseURL == "" {
		log.Printf("email not configured — enrollment in %q approved for %s", courseTitle, toEmail)
		return nil
	}
	return c.sendTx(ctx, toEmail, map[string]string{
		"kind":        "enrollment_approved",
		"name":        toName,
		"courseTitle": courseTitle,
		"courseURL":   courseURL,
	})
}

func (c *Client) SendCertificateIssued(ctx context.Context, _, toEmail, toName, courseTitle, serial string) error {
	if c.config.BaseURL == "" {
		log.Printf("email not configured — certificate %s issued for %q to %s", serial, courseTitle, toEmail)
		return nil
	}
	return c.sendTx(ctx, toEmail, map[string]string{
		"kind":        "certificate_issued",
		"name":        toName,
		"courseTitle": courseTitle,
		"serial":      serial,
	})
}

func (c *Client) sendTx(ctx context.Context, toEmail string, data map[string]string) error {
	body := txRequest{
		SubscriberEmail: toEmail,
		TemplateID:      c.config.TemplateID,
		Data:            data,
		ContentType:     "html",
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/tx", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.config.Username, c.config.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listmonk returned status %d", resp.StatusCode)
	}

	return nil
}

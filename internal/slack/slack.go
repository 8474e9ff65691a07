package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/lectern/lectern/internal/database"
)

// Client sends Slack notifications via incoming webhooks.
type Client struct {
	db   database.DBTX
	http *http.Client
}

// New creates a Slack webhook client.
func New(db database.DBTX) *Client {
	return &Client{
		db:   db,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type block struct {
	Type     string `json:"type"`
	Text     *text  `json:"text,omitempty"`
	Elements []text `json:"elements,omitempty"`
}

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type payload struct {
	Blocks []block `json:"blocks"`
}

func (c *Client) lookupWebhookURL(ctx context.Context, userID string) (string, error) {
	var webhookURL string
	err := c.db.QueryRow(ctx,
		`SELECT slack_webhook_url FROM notification_settings WHERE user_id = $1 AND slack_webhook_url IS NOT NULL`,
		userID,
	).Scan(&webhookURL)
	if err != nil {
		return "", err
	}
	return webhookURL, nil
}

func (c *Client) postMessage(ctx context.Context, webhookURL string, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	return nil
}

// SendEnrollmentRequested pings the course owner's Slack when a student
// asks for access. Lookup failure means the owner has no webhook
// configured, which is not an error.
func (c *Client) SendEnrollmentRequested(ctx context.Context, ownerID, ownerEmail, ownerName, studentName, courseTitle string) error {
	webhookURL, err := c.lookupWebhookURL(ctx, ownerID)
	if err != nil {
		log.Printf("slack: no webhook for %s: %v", ownerID, err)
		return nil
	}

	p := payload{
		Blocks: []block{
			{
				Type: "section",
				Text: &text{
					Type: "mrkdwn",
					Text: fmt.Sprintf(":raising_hand: *New enrollment request*\n*%s* wants to join *%s*", studentName, courseTitle),
				},
			},
			{
				Type: "context",
				Elements: []text{
					{
						Type: "mrkdwn",
						Text: "Approve or reject it from the enrollments page.",
					},
				},
			},
		},
	}

	if err := c.postMessage(ctx, webhookURL, p); err != nil {
		log.Printf("slack: failed to send enrollment notification: %v", err)
	}
	return nil
}

// SendEnrollmentApproved is a no-op: approval is student-facing mail and
// Slack webhooks belong to course owners.
func (c *Client) SendEnrollmentApproved(_ context.Context, _, _, _, _ string) error {
	return nil
}

// SendCertificateIssued tells the course owner one of their students
// finished the course.
func (c *Client) SendCertificateIssued(ctx context.Context, ownerID, _, studentName, courseTitle, serial string) error {
	if ownerID == "" {
		return nil
	}
	webhookURL, err := c.lookupWebhookURL(ctx, ownerID)
	if err != nil {
		log.Printf("slack: no webhook for %s: %v", ownerID, err)
		return nil
	}

	p := payload{
		Blocks: []block{
			{
				Type: "section",
				Text: &text{
					Type: "mrkdwn",
					Text: fmt.Sprintf(":mortar_board: *Course completed*\n*%s* finished *%s*", studentName, courseTitle),
				},
			},
			{
				Type: "context",
				Elements: []text{
					{
						Type: "mrkdwn",
						Text: fmt.Sprintf("Certificate %s", serial),
					},
				},
			},
		},
	}

	if err := c.postMessage(ctx, webhookURL, p); err != nil {
		log.Printf("slack: failed to send certificate notification: %v", err)
	}
	return nil
}

// SendTestMessage posts a test message directly to the given webhook URL without DB lookup.
func SendTestMessage(ctx context.Context, webhookURL string) error {
	p := payload{
		Blocks: []block{
			{
				Type: "section",
				Text: &text{
					Type: "mrkdwn",
					Text: ":white_check_mark: *Lectern is connected!*\nSlack notifications are working. You'll receive messages here when students request enrollment or complete your courses.",
				},
			},
		},
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack test message: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	return nil
}

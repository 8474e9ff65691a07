package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/lectern/lectern/internal/database"
	"github.com/lectern/lectern/internal/webhook"
)

// ObjectStorage is the slice of the storage layer the catalog needs for
// lecture video lifecycle: direct-to-bucket uploads, existence checks, and
// cleanup.
type ObjectStorage interface {
	GenerateUploadURL(ctx context.Context, key string, contentType string, contentLength int64, expiry time.Duration) (string, error)
	HeadObject(ctx context.Context, key string) (int64, string, error)
	DeleteObject(ctx context.Context, key string) error
}

// EnrollmentNotifier is told about enrollment lifecycle events. Requested
// goes to the course owner; approved goes to the student.
type EnrollmentNotifier interface {
	SendEnrollmentRequested(ctx context.Context, ownerID, ownerEmail, ownerName, studentName, courseTitle string) error
	SendEnrollmentApproved(ctx context.Context, toEmail, toName, courseTitle, courseURL string) error
}

// CertificateNotifier is told when a course certificate is issued. The
// student gets the certificate itself; ownerID lets channel integrations
// ping the course owner and is empty when the course has no owner.
type CertificateNotifier interface {
	SendCertificateIssued(ctx context.Context, ownerID, studentEmail, studentName, courseTitle, serial string) error
}

type Handler struct {
	db                  database.DBTX
	storage             ObjectStorage
	baseURL             string
	maxUploadBytes      int64
	enrollmentNotifier  EnrollmentNotifier
	certificateNotifier CertificateNotifier
	webhookClient       *webhook.Client
}

func NewHandler(db database.DBTX, storage ObjectStorage, baseURL string, maxUploadBytes int64) *Handler {
	return &Handler{
		db:             db,
		storage:        storage,
		baseURL:        baseURL,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) SetEnrollmentNotifier(n EnrollmentNotifier) {
	h.enrollmentNotifier = n
}

func (h *Handler) SetCertificateNotifier(n CertificateNotifier) {
	h.certificateNotifier = n
}

func (h *Handler) SetWebhookClient(c *webhook.Client) {
	h.webhookClient = c
}

func (h *Handler) dispatchWebhook(userID string, event webhook.Event) {
	if h.webhookClient == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		webhookURL, secret, err := h.webhookClient.LookupConfigByUserID(ctx, userID)
		if err != nil {
			return
		}
		if err := h.webhookClient.Dispatch(ctx, userID, webhookURL, secret, event); err != nil {
			slog.Error("webhook: dispatch failed", "user_id", userID, "event", event.Name, "error", err)
		}
	}()
}

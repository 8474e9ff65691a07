package notify

import (
	"context"
	"log/slog"

	"github.com/lectern/lectern/internal/catalog"
)

var (
	_ catalog.EnrollmentNotifier  = (*MultiEnrollmentNotifier)(nil)
	_ catalog.CertificateNotifier = (*MultiCertificateNotifier)(nil)
)

// MultiEnrollmentNotifier fans out enrollment notifications to all
// registered notifiers. A failing channel is logged, never propagated, so
// one broken integration cannot silence the others.
type MultiEnrollmentNotifier struct {
	notifiers []catalog.EnrollmentNotifier
}

// NewMultiEnrollmentNotifier creates a notifier that delegates to all provided enrollment notifiers.
func NewMultiEnrollmentNotifier(notifiers ...catalog.EnrollmentNotifier) *MultiEnrollmentNotifier {
	return &MultiEnrollmentNotifier{notifiers: notifiers}
}

func (m *MultiEnrollmentNotifier) SendEnrollmentRequested(ctx context.Context, ownerID, ownerEmail, ownerName, studentName, courseTitle string) error {
	for _, n := range m.notifiers {
		if err := n.SendEnrollmentRequested(ctx, ownerID, ownerEmail, ownerName, studentName, courseTitle); err != nil {
			slog.Error("multi-notifier: enrollment request notification failed", "error", err)
		}
	}
	return nil
}

func (m *MultiEnrollmentNotifier) SendEnrollmentApproved(ctx context.Context, toEmail, toName, courseTitle, courseURL string) error {
	for _, n := range m.notifiers {
		if err := n.SendEnrollmentApproved(ctx, toEmail, toName, courseTitle, courseURL); err != nil {
			slog.Error("multi-notifier: enrollment approval notification failed", "error", err)
		}
	}
	return nil
}

// MultiCertificateNotifier fans out certificate notifications to all registered notifiers.
type MultiCertificateNotifier struct {
	notifiers []catalog.CertificateNotifier
}

// NewMultiCertificateNotifier creates a notifier that delegates to all provided certificate notifiers.
func NewMultiCertificateNotifier(notifiers ...catalog.CertificateNotifier) *MultiCertificateNotifier {
	return &MultiCertificateNotifier{notifiers: notifiers}
}

func (m *MultiCertificateNotifier) SendCertificateIssued(ctx context.Context, ownerID, studentEmail, studentName, courseTitle, serial string) error {
	for _, n := range m.notifiers {
		if err := n.SendCertificateIssued(ctx, ownerID, studentEmail, studentName, courseTitle, serial); err != nil {
			slog.Error("multi-notifier: certificate notification failed", "error", err)
		}
	}
	return nil
}

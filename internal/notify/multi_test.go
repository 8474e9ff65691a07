package notify

import (
	"context"
	"errors"
	"testing"
)

type recordingEnrollmentNotifier struct {
	requested int
	approved  int
	err       error
}

func (r *recordingEnrollmentNotifier) SendEnrollmentRequested(context.Context, string, string, string, string, string) error {
	r.requested++
	return r.err
}

func (r *recordingEnrollmentNotifier) SendEnrollmentApproved(context.Context, string, string, string, string) error {
	r.approved++
	return r.err
}

type recordingCertificateNotifier struct {
	issued int
	err    error
}

func (r *recordingCertificateNotifier) SendCertificateIssued(context.Context, string, string, string, string, string) error {
	r.issued++
	return r.err
}

func TestMultiEnrollmentNotifier_FansOut(t *testing.T) {
	a := &recordingEnrollmentNotifier{}
	b := &recordingEnrollmentNotifier{}
	m := NewMultiEnrollmentNotifier(a, b)

	if err := m.SendEnrollmentRequested(context.Background(), "o", "o@x", "O", "S", "C"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SendEnrollmentApproved(context.Background(), "s@x", "S", "C", "https://x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.requested != 1 || b.requested != 1 {
		t.Errorf("expected both notifiers to receive request, got %d and %d", a.requested, b.requested)
	}
	if a.approved != 1 || b.approved != 1 {
		t.Errorf("expected both notifiers to receive approval, got %d and %d", a.approved, b.approved)
	}
}

func TestMultiEnrollmentNotifier_FailureDoesNotStopOthers(t *testing.T) {
	failing := &recordingEnrollmentNotifier{err: errors.New("slack down")}
	healthy := &recordingEnrollmentNotifier{}
	m := NewMultiEnrollmentNotifier(failing, healthy)

	if err := m.SendEnrollmentRequested(context.Background(), "o", "o@x", "O", "S", "C"); err != nil {
		t.Fatalf("a failing notifier must not surface an error, got %v", err)
	}
	if healthy.requested != 1 {
		t.Error("expected healthy notifier to still be called")
	}
}

func TestMultiCertificateNotifier_FansOut(t *testing.T) {
	a := &recordingCertificateNotifier{}
	b := &recordingCertificateNotifier{err: errors.New("mail down")}
	m := NewMultiCertificateNotifier(a, b)

	if err := m.SendCertificateIssued(context.Background(), "o", "s@x", "S", "C", "LCT-AAAA-BBBB"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.issued != 1 || b.issued != 1 {
		t.Errorf("expected both notifiers called, got %d and %d", a.issued, b.issued)
	}
}

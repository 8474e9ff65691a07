package catalog

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/lectern/lectern/internal/auth"
	"github.com/lectern/lectern/internal/httputil"
	"github.com/lectern/lectern/internal/webhook"
)

// LectureCompleted is the completion sink the playback handler calls once
// per newly completed lecture. When every lecture of the course is
// complete it issues the course certificate; the insert is idempotent so
// racing completions of the final lecture still produce one certificate.
func (h *Handler) LectureCompleted(ctx context.Context, studentID, lectureID, courseID string) {
	go func() {
		bctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		h.notifyLectureCompleted(bctx, studentID, lectureID, courseID)
		if err := h.maybeIssueCertificate(bctx, studentID, courseID); err != nil {
			slog.Error("catalog: certificate issuance failed",
				"student_id", studentID, "course_id", courseID, "error", err)
		}
	}()
}

func (h *Handler) notifyLectureCompleted(ctx context.Context, studentID, lectureID, courseID string) {
	if h.webhookClient == nil {
		return
	}
	var lectureTitle, courseTitle string
	var ownerID *string
	err := h.db.QueryRow(ctx,
		`SELECT l.title, c.title, c.created_by
		 FROM lectures l
		 JOIN courses c ON c.id = l.course_id
		 WHERE l.id = $1`,
		lectureID,
	).Scan(&lectureTitle, &courseTitle, &ownerID)
	if err != nil || ownerID == nil {
		return
	}
	h.dispatchWebhook(*ownerID, webhook.Event{
		Name:      "lecture.completed",
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"studentId":    studentID,
			"lectureId":    lectureID,
			"lectureTitle": lectureTitle,
			"courseId":     courseID,
			"courseTitle":  courseTitle,
		},
	})
}

func (h *Handler) maybeIssueCertificate(ctx context.Context, studentID, courseID string) error {
	var total, completed int
	err := h.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE p.completed)
		 FROM lectures l
		 LEFT JOIN lecture_progress p ON p.lecture_id = l.id AND p.student_id = $1
		 WHERE l.course_id = $2`,
		studentID, courseID,
	).Scan(&total, &completed)
	if err != nil {
		return fmt.Errorf("count completed lectures: %w", err)
	}
	if total == 0 || completed < total {
		return nil
	}

	serial, err := certificateSerial()
	if err != nil {
		return err
	}

	var certID string
	var issuedAt time.Time
	err = h.db.QueryRow(ctx,
		`INSERT INTO certificates (student_id, course_id, serial)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (student_id, course_id) DO NOTHING
		 RETURNING id, issued_at`,
		studentID, courseID, serial,
	).Scan(&certID, &issuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// already issued by an earlier completion
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}

	var studentEmail, studentName string
	if err := h.db.QueryRow(ctx,
		`SELECT email, name FROM users WHERE id = $1`, studentID,
	).Scan(&studentEmail, &studentName); err != nil {
		return fmt.Errorf("load student: %w", err)
	}
	var courseTitle string
	var ownerID *string
	if err := h.db.QueryRow(ctx,
		`SELECT title, created_by FROM courses WHERE id = $1`, courseID,
	).Scan(&courseTitle, &ownerID); err != nil {
		return fmt.Errorf("load course: %w", err)
	}

	if h.certificateNotifier != nil {
		owner := ""
		if ownerID != nil {
			owner = *ownerID
		}
		if err := h.certificateNotifier.SendCertificateIssued(ctx, owner, studentEmail, studentName, courseTitle, serial); err != nil {
			slog.Warn("catalog: certificate notification failed", "serial", serial, "error", err)
		}
	}
	if ownerID != nil {
		h.dispatchWebhook(*ownerID, webhook.Event{
			Name:      "certificate.issued",
			Timestamp: time.Now().UTC(),
			Data: map[string]any{
				"certificateId": certID,
				"serial":        serial,
				"studentName":   studentName,
				"courseTitle":   courseTitle,
				"issuedAt":      issuedAt.UTC().Format(time.RFC3339),
			},
		})
	}
	return nil
}

type certificateResponse struct {
	ID          string `json:"id"`
	CourseID    string `json:"courseId"`
	CourseTitle string `json:"courseTitle"`
	Serial      string `json:"serial"`
	IssuedAt    string `json:"issuedAt"`
}

func (h *Handler) ListMyCertificates(w http.ResponseWriter, r *http.Request) {
	studentID := auth.UserIDFromContext(r.Context())

	rows, err := h.db.Query(r.Context(),
		`SELECT ce.id, ce.course_id, c.title, ce.serial, ce.issued_at
		 FROM certificates ce
		 JOIN courses c ON c.id = ce.course_id
		 WHERE ce.student_id = $1
		 ORDER BY ce.issued_at DESC`,
		studentID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list certificates")
		return
	}
	defer rows.Close()

	certs := make([]certificateResponse, 0)
	for rows.Next() {
		var c certificateResponse
		var issuedAt time.Time
		if err := rows.Scan(&c.ID, &c.CourseID, &c.CourseTitle, &c.Serial, &issuedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to list certificates")
			return
		}
		c.IssuedAt = issuedAt.Format(time.RFC3339)
		certs = append(certs, c)
	}

	httputil.WriteJSON(w, http.StatusOK, certs)
}

type verifyCertificateResponse struct {
	Serial      string `json:"serial"`
	StudentName string `json:"studentName"`
	CourseTitle string `json:"courseTitle"`
	IssuedAt    string `json:"issuedAt"`
}

// VerifyCertificate resolves a serial for third parties checking a
// claimed credential. No authentication: serials are unguessable and the
// response carries no contact details.
func (h *Handler) VerifyCertificate(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	var resp verifyCertificateResponse
	var issuedAt time.Time
	err := h.db.QueryRow(r.Context(),
		`SELECT ce.serial, u.name, c.title, ce.issued_at
		 FROM certificates ce
		 JOIN users u ON u.id = ce.student_id
		 JOIN courses c ON c.id = ce.course_id
		 WHERE ce.serial = $1`,
		serial,
	).Scan(&resp.Serial, &resp.StudentName, &resp.CourseTitle, &issuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "certificate not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to verify certificate")
		return
	}
	resp.IssuedAt = issuedAt.Format(time.RFC3339)

	httputil.WriteJSON(w, http.StatusOK, resp)
}

func certificateSerial() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("LCT-")
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	for i, by := range b {
		if i > 0 && i%4 == 0 {
			sb.WriteByte('-')
		}
		sb.WriteByte(alphabet[int(by)%len(alphabet)])
	}
	return sb.String(), nil
}

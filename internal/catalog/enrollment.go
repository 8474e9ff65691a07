package catalog

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lectern/lectern/internal/auth"
	"github.com/lectern/lectern/internal/httputil"
	"github.com/lectern/lectern/internal/webhook"
)

type enrollmentResponse struct {
	ID          string `json:"id"`
	CourseID    string `json:"courseId"`
	CourseTitle string `json:"courseTitle"`
	Status      string `json:"status"`
	RequestedAt string `json:"requestedAt"`
}

// RequestEnrollment opens a pending enrollment for the caller. Repeated
// requests for the same course return the existing enrollment rather than
// an error.
func (h *Handler) RequestEnrollment(w http.ResponseWriter, r *http.Request) {
	studentID := auth.UserIDFromContext(r.Context())
	courseID := chi.URLParam(r, "id")

	var courseTitle string
	var ownerID *string
	err := h.db.QueryRow(r.Context(),
		`SELECT title, created_by FROM courses WHERE id = $1`, courseID,
	).Scan(&courseTitle, &ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "course not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load course")
		return
	}

	var id, status string
	var requestedAt time.Time
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO enrollments (student_id, course_id) VALUES ($1, $2)
		 RETURNING id, status, requested_at`,
		studentID, courseID,
	).Scan(&id, &status, &requestedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = h.db.QueryRow(r.Context(),
				`SELECT id, status, requested_at FROM enrollments
				 WHERE student_id = $1 AND course_id = $2`,
				studentID, courseID,
			).Scan(&id, &status, &requestedAt)
		}
		if err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to request enrollment")
			return
		}
	} else {
		h.notifyEnrollmentRequested(r, studentID, ownerID, courseTitle)
	}

	httputil.WriteJSON(w, http.StatusCreated, enrollmentResponse{
		ID:          id,
		CourseID:    courseID,
		CourseTitle: courseTitle,
		Status:      status,
		RequestedAt: requestedAt.Format(time.RFC3339),
	})
}

func (h *Handler) ListMyEnrollments(w http.ResponseWriter, r *http.Request) {
	studentID := auth.UserIDFromContext(r.Context())

	rows, err := h.db.Query(r.Context(),
		`SELECT e.id, e.course_id, c.title, e.status, e.requested_at
		 FROM enrollments e
		 JOIN courses c ON c.id = e.course_id
		 WHERE e.student_id = $1
		 ORDER BY e.requested_at DESC`,
		studentID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list enrollments")
		return
	}
	defer rows.Close()

	enrollments := make([]enrollmentResponse, 0)
	for rows.Next() {
		var e enrollmentResponse
		var requestedAt time.Time
		if err := rows.Scan(&e.ID, &e.CourseID, &e.CourseTitle, &e.Status, &requestedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to list enrollments")
			return
		}
		e.RequestedAt = requestedAt.Format(time.RFC3339)
		enrollments = append(enrollments, e)
	}

	httputil.WriteJSON(w, http.StatusOK, enrollments)
}

type pendingEnrollmentResponse struct {
	ID           string `json:"id"`
	CourseID     string `json:"courseId"`
	CourseTitle  string `json:"courseTitle"`
	StudentEmail string `json:"studentEmail"`
	StudentName  string `json:"studentName"`
	RequestedAt  string `json:"requestedAt"`
}

func (h *Handler) ListPendingEnrollments(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Query(r.Context(),
		`SELECT e.id, e.course_id, c.title, u.email, u.name, e.requested_at
		 FROM enrollments e
		 JOIN courses c ON c.id = e.course_id
		 JOIN users u ON u.id = e.student_id
		 WHERE e.status = 'pending'
		 ORDER BY e.requested_at`,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list enrollments")
		return
	}
	defer rows.Close()

	pending := make([]pendingEnrollmentResponse, 0)
	for rows.Next() {
		var p pendingEnrollmentResponse
		var requestedAt time.Time
		if err := rows.Scan(&p.ID, &p.CourseID, &p.CourseTitle, &p.StudentEmail, &p.StudentName, &requestedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to list enrollments")
			return
		}
		p.RequestedAt = requestedAt.Format(time.RFC3339)
		pending = append(pending, p)
	}

	httputil.WriteJSON(w, http.StatusOK, pending)
}

// ApproveEnrollment moves a pending enrollment to approved and tells the
// student. Approval of an already-decided enrollment is a 404, not a
// re-decision.
func (h *Handler) ApproveEnrollment(w http.ResponseWriter, r *http.Request) {
	enrollmentID := chi.URLParam(r, "id")

	var studentEmail, studentName, courseID, courseTitle string
	err := h.db.QueryRow(r.Context(),
		`UPDATE enrollments e SET status = 'approved', decided_at = now()
		 FROM courses c, users u
		 WHERE e.id = $1 AND e.status = 'pending' AND c.id = e.course_id AND u.id = e.student_id
		 RETURNING u.email, u.name, c.id, c.title`,
		enrollmentID,
	).Scan(&studentEmail, &studentName, &courseID, &courseTitle)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "pending enrollment not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to approve enrollment")
		return
	}

	if h.enrollmentNotifier != nil {
		email, name, title := studentEmail, studentName, courseTitle
		courseURL := h.baseURL + "/courses/" + courseID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.enrollmentNotifier.SendEnrollmentApproved(ctx, email, name, title, courseURL); err != nil {
				slog.Warn("catalog: enrollment approval notification failed", "error", err)
			}
		}()
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RejectEnrollment(w http.ResponseWriter, r *http.Request) {
	enrollmentID := chi.URLParam(r, "id")

	tag, err := h.db.Exec(r.Context(),
		`UPDATE enrollments SET status = 'rejected', decided_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		enrollmentID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to reject enrollment")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "pending enrollment not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) notifyEnrollmentRequested(r *http.Request, studentID string, ownerID *string, courseTitle string) {
	if ownerID == nil {
		return
	}
	owner := *ownerID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var studentName string
		if err := h.db.QueryRow(ctx,
			`SELECT name FROM users WHERE id = $1`, studentID,
		).Scan(&studentName); err != nil {
			return
		}
		var ownerEmail, ownerName string
		if err := h.db.QueryRow(ctx,
			`SELECT email, name FROM users WHERE id = $1`, owner,
		).Scan(&ownerEmail, &ownerName); err != nil {
			return
		}

		if h.enrollmentNotifier != nil {
			if err := h.enrollmentNotifier.SendEnrollmentRequested(ctx, owner, ownerEmail, ownerName, studentName, courseTitle); err != nil {
				slog.Warn("catalog: enrollment request notification failed", "error", err)
			}
		}
		h.dispatchWebhook(owner, webhook.Event{
			Name:      "enrollment.requested",
			Timestamp: time.Now().UTC(),
			Data: map[string]any{
				"studentName": studentName,
				"courseTitle": courseTitle,
			},
		})
	}()
}

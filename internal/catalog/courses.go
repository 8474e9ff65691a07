package catalog

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/lectern/lectern/internal/auth"
	"github.com/lectern/lectern/internal/httputil"
	"github.com/lectern/lectern/internal/validate"
)

var validLevels = map[string]bool{
	"beginner":     true,
	"intermediate": true,
	"advanced":     true,
}

type courseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Level       string `json:"level"`
	PriceCents  int64  `json:"priceCents"`
}

type courseResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Level        string `json:"level"`
	PriceCents   int64  `json:"priceCents"`
	LectureCount int    `json:"lectureCount"`
	Enrollment   string `json:"enrollment,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req courseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title is required")
		return
	}
	if msg := validate.CourseTitle(req.Title); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validate.CourseDescription(req.Description); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Level == "" {
		req.Level = "beginner"
	}
	if !validLevels[req.Level] {
		httputil.WriteError(w, http.StatusBadRequest, "level must be beginner, intermediate or advanced")
		return
	}
	if req.PriceCents < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "price must not be negative")
		return
	}

	var id string
	var createdAt time.Time
	err := h.db.QueryRow(r.Context(),
		`INSERT INTO courses (created_by, title, description, level, price_cents)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		userID, req.Title, req.Description, req.Level, req.PriceCents,
	).Scan(&id, &createdAt)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create course")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, courseResponse{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		Level:       req.Level,
		PriceCents:  req.PriceCents,
		CreatedAt:   createdAt.Format(time.RFC3339),
	})
}

// ListCourses returns the catalog with the caller's enrollment state
// folded in, so the surface can decide between "watch", "continue" and
// "request access" per course.
func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	rows, err := h.db.Query(r.Context(),
		`SELECT c.id, c.title, c.description, c.level, c.price_cents, c.created_at,
		        (SELECT COUNT(*) FROM lectures l WHERE l.course_id = c.id),
		        COALESCE(e.status, '')
		 FROM courses c
		 LEFT JOIN enrollments e ON e.course_id = c.id AND e.student_id = $1
		 ORDER BY c.created_at DESC`,
		userID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list courses")
		return
	}
	defer rows.Close()

	courses := make([]courseResponse, 0)
	for rows.Next() {
		var c courseResponse
		var createdAt time.Time
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.Level, &c.PriceCents,
			&createdAt, &c.LectureCount, &c.Enrollment); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to list courses")
			return
		}
		c.CreatedAt = createdAt.Format(time.RFC3339)
		courses = append(courses, c)
	}

	httputil.WriteJSON(w, http.StatusOK, courses)
}

type lectureSummary struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	OrderIndex      int    `json:"orderIndex"`
	DurationSeconds int    `json:"durationSeconds"`
	VideoStatus     string `json:"videoStatus"`
}

type courseDetailResponse struct {
	courseResponse
	Lectures []lectureSummary `json:"lectures"`
}

func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	courseID := chi.URLParam(r, "id")

	var detail courseDetailResponse
	var createdAt time.Time
	err := h.db.QueryRow(r.Context(),
		`SELECT c.id, c.title, c.description, c.level, c.price_cents, c.created_at,
		        COALESCE(e.status, '')
		 FROM courses c
		 LEFT JOIN enrollments e ON e.course_id = c.id AND e.student_id = $1
		 WHERE c.id = $2`,
		userID, courseID,
	).Scan(&detail.ID, &detail.Title, &detail.Description, &detail.Level,
		&detail.PriceCents, &createdAt, &detail.Enrollment)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "course not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load course")
		return
	}
	detail.CreatedAt = createdAt.Format(time.RFC3339)

	rows, err := h.db.Query(r.Context(),
		`SELECT id, title, order_index, duration_seconds, video_status
		 FROM lectures WHERE course_id = $1 ORDER BY order_index, created_at`,
		courseID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load lectures")
		return
	}
	defer rows.Close()

	detail.Lectures = make([]lectureSummary, 0)
	for rows.Next() {
		var l lectureSummary
		if err := rows.Scan(&l.ID, &l.Title, &l.OrderIndex, &l.DurationSeconds, &l.VideoStatus); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to load lectures")
			return
		}
		detail.Lectures = append(detail.Lectures, l)
	}
	detail.LectureCount = len(detail.Lectures)

	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")

	var req courseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title is required")
		return
	}
	if msg := validate.CourseTitle(req.Title); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validate.CourseDescription(req.Description); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Level != "" && !validLevels[req.Level] {
		httputil.WriteError(w, http.StatusBadRequest, "level must be beginner, intermediate or advanced")
		return
	}

	tag, err := h.db.Exec(r.Context(),
		`UPDATE courses SET title = $1, description = $2,
		        level = COALESCE(NULLIF($3, ''), level),
		        price_cents = $4, updated_at = now()
		 WHERE id = $5`,
		req.Title, req.Description, req.Level, req.PriceCents, courseID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update course")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "course not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")

	tag, err := h.db.Exec(r.Context(), `DELETE FROM courses WHERE id = $1`, courseID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete course")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "course not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

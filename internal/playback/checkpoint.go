package playback

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/lectern/lectern/internal/auth"
	"github.com/lectern/lectern/internal/httputil"
)

type checkpointRequest struct {
	PositionSeconds int `json:"positionSeconds"`
}

type progressResponse struct {
	WatchedSeconds int    `json:"watchedSeconds"`
	Completed      bool   `json:"completed"`
	CompletedAt    *int64 `json:"completedAt,omitempty"`
}

// Checkpoint records a playback position. Positions only ever ratchet
// upward: a checkpoint behind the stored high-water mark is absorbed
// without effect, so retries and out-of-order delivery are harmless.
// Completion is derived server-side from the lecture duration; the
// client never asserts it.
func (h *Handler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	viewerID := auth.UserIDFromContext(r.Context())
	lectureID := chi.URLParam(r, "id")

	var req checkpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PositionSeconds < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "position must not be negative")
		return
	}

	decision, err := Authorize(r.Context(), h.db, viewerID, lectureID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "unable to load lecture")
		return
	}
	if !decision.Allowed {
		writeDenial(w, decision.Reason)
		return
	}

	duration := decision.Lecture.DurationSeconds
	position := req.PositionSeconds

	var resp progressResponse
	var completedAt *int64
	var wasCompleted bool
	err = h.db.QueryRow(r.Context(),
		`SELECT watched_seconds, completed FROM lecture_progress
		 WHERE student_id = $1 AND lecture_id = $2`,
		viewerID, lectureID,
	).Scan(&resp.WatchedSeconds, &wasCompleted)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusInternalServerError, "unable to load progress")
		return
	}

	// Completion derives from the merged high-water mark, not the incoming
	// position: a stored mark can cross the boundary later, when an admin
	// corrects the duration downward.
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO lecture_progress (student_id, lecture_id, watched_seconds, completed, completed_at)
		 VALUES ($1, $2, $3, $4 > 0 AND $3 >= $4, CASE WHEN $4 > 0 AND $3 >= $4 THEN now() END)
		 ON CONFLICT (student_id, lecture_id) DO UPDATE SET
		   watched_seconds = GREATEST(lecture_progress.watched_seconds, EXCLUDED.watched_seconds),
		   completed = lecture_progress.completed
		     OR ($4 > 0 AND GREATEST(lecture_progress.watched_seconds, EXCLUDED.watched_seconds) >= $4),
		   completed_at = COALESCE(lecture_progress.completed_at,
		     CASE WHEN $4 > 0 AND GREATEST(lecture_progress.watched_seconds, EXCLUDED.watched_seconds) >= $4 THEN now() END),
		   updated_at = now()
		 RETURNING watched_seconds, completed, EXTRACT(EPOCH FROM completed_at)::bigint`,
		viewerID, lectureID, position, duration,
	).Scan(&resp.WatchedSeconds, &resp.Completed, &completedAt)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "unable to save progress")
		return
	}
	resp.CompletedAt = completedAt

	if resp.Completed && !wasCompleted && h.completionSink != nil {
		h.completionSink.LectureCompleted(r.Context(), viewerID, lectureID, decision.Lecture.CourseID)
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Complete marks a lecture finished explicitly. It is idempotent: the
// first call fixes completed_at and later calls return the same fact.
// A lecture with no known duration cannot be completed this way.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	viewerID := auth.UserIDFromContext(r.Context())
	lectureID := chi.URLParam(r, "id")

	decision, err := Authorize(r.Context(), h.db, viewerID, lectureID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "unable to load lecture")
		return
	}
	if !decision.Allowed {
		writeDenial(w, decision.Reason)
		return
	}
	if decision.Lecture.DurationSeconds <= 0 {
		httputil.WriteError(w, http.StatusConflict, "lecture duration unknown")
		return
	}

	var wasCompleted bool
	if err := h.db.QueryRow(r.Context(),
		`SELECT completed FROM lecture_progress WHERE student_id = $1 AND lecture_id = $2`,
		viewerID, lectureID,
	).Scan(&wasCompleted); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusInternalServerError, "unable to load progress")
		return
	}

	var resp progressResponse
	var completedAt *int64
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO lecture_progress (student_id, lecture_id, watched_seconds, completed, completed_at)
		 VALUES ($1, $2, $3, TRUE, now())
		 ON CONFLICT (student_id, lecture_id) DO UPDATE SET
		   watched_seconds = GREATEST(lecture_progress.watched_seconds, EXCLUDED.watched_seconds),
		   completed = TRUE,
		   completed_at = COALESCE(lecture_progress.completed_at, EXCLUDED.completed_at),
		   updated_at = now()
		 RETURNING watched_seconds, completed, EXTRACT(EPOCH FROM completed_at)::bigint`,
		viewerID, lectureID, decision.Lecture.DurationSeconds,
	).Scan(&resp.WatchedSeconds, &resp.Completed, &completedAt)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "unable to save progress")
		return
	}
	resp.CompletedAt = completedAt

	if !wasCompleted && h.completionSink != nil {
		h.completionSink.LectureCompleted(r.Context(), viewerID, lectureID, decision.Lecture.CourseID)
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Progress returns the stored progress row, or zeroes when the viewer
// has never sent a checkpoint for this lecture.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	viewerID := auth.UserIDFromContext(r.Context())
	lectureID := chi.URLParam(r, "id")

	decision, err := Authorize(r.Context(), h.db, viewerID, lectureID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "unable to load lecture")
		return
	}
	if !decision.Allowed {
		writeDenial(w, decision.Reason)
		return
	}

	var resp progressResponse
	var completedAt *int64
	err = h.db.QueryRow(r.Context(),
		`SELECT watched_seconds, completed, EXTRACT(EPOCH FROM completed_at)::bigint
		 FROM lecture_progress WHERE student_id = $1 AND lecture_id = $2`,
		viewerID, lectureID,
	).Scan(&resp.WatchedSeconds, &resp.Completed, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteJSON(w, http.StatusOK, progressResponse{})
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "unable to load progress")
		return
	}
	resp.CompletedAt = completedAt
	httputil.WriteJSON(w, http.StatusOK, resp)
}

package catalog

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lectern/lectern/internal/auth"
	"github.com/lectern/lectern/internal/httputil"
)

type lectureProgressEntry struct {
	LectureID       string `json:"lectureId"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"durationSeconds"`
	WatchedSeconds  int    `json:"watchedSeconds"`
	Completed       bool   `json:"completed"`
	CompletedAt     string `json:"completedAt,omitempty"`
}

type courseProgressResponse struct {
	CourseID          string                 `json:"courseId"`
	LecturesTotal     int                    `json:"lecturesTotal"`
	LecturesCompleted int                    `json:"lecturesCompleted"`
	Lectures          []lectureProgressEntry `json:"lectures"`
}

// CourseProgress reports where the caller stands in a course: per-lecture
// resume positions plus the completed count the surface uses for its
// progress bar.
func (h *Handler) CourseProgress(w http.ResponseWriter, r *http.Request) {
	studentID := auth.UserIDFromContext(r.Context())
	courseID := chi.URLParam(r, "id")

	rows, err := h.db.Query(r.Context(),
		`SELECT l.id, l.title, l.duration_seconds,
		        COALESCE(p.watched_seconds, 0),
		        COALESCE(p.completed, false),
		        p.completed_at
		 FROM lectures l
		 LEFT JOIN lecture_progress p ON p.lecture_id = l.id AND p.student_id = $1
		 WHERE l.course_id = $2
		 ORDER BY l.order_index, l.created_at`,
		studentID, courseID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	defer rows.Close()

	resp := courseProgressResponse{
		CourseID: courseID,
		Lectures: make([]lectureProgressEntry, 0),
	}
	for rows.Next() {
		var e lectureProgressEntry
		var completedAt *time.Time
		if err := rows.Scan(&e.LectureID, &e.Title, &e.DurationSeconds,
			&e.WatchedSeconds, &e.Completed, &completedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to load progress")
			return
		}
		if completedAt != nil {
			e.CompletedAt = completedAt.Format(time.RFC3339)
		}
		if e.Completed {
			resp.LecturesCompleted++
		}
		resp.Lectures = append(resp.Lectures, e)
	}
	resp.LecturesTotal = len(resp.Lectures)

	httputil.WriteJSON(w, http.StatusOK, resp)
}

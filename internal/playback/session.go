package playback

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lectern/lectern/internal/auth"
	"github.com/lectern/lectern/internal/httputil"
)

type playResponse struct {
	SignedURL       string `json:"signedUrl"`
	WatermarkText   string `json:"watermarkText"`
	WatermarkCourse string `json:"watermarkCourse"`
	ExpiresIn       int    `json:"expiresIn"`
}

// Play issues a playback session: a signed media URL bound to this viewer
// and lecture, plus the watermark identity payload. The access guard runs
// on every call; a denial never leaks a media reference, not even a stale
// one.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
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

	if !decision.Lecture.Playable() {
		httputil.WriteError(w, http.StatusConflict, "video not uploaded")
		return
	}

	var viewerEmail, viewerName string
	err = h.db.QueryRow(r.Context(),
		`SELECT email, name FROM users WHERE id = $1`, viewerID,
	).Scan(&viewerEmail, &viewerName)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "unable to load viewer")
		return
	}

	token, err := GenerateMediaToken(h.mediaSecret, lectureID, viewerID, MediaTokenDuration)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "unable to issue session")
		return
	}

	h.recordWatchSession(r, viewerID, lectureID)

	signedURL := fmt.Sprintf("%s/api/media/stream/%s?token=%s", h.baseURL, lectureID, token)
	watermark := fmt.Sprintf("%s | %s", viewerEmail, time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))
	httputil.WriteJSON(w, http.StatusOK, playResponse{
		SignedURL:       signedURL,
		WatermarkText:   watermark,
		WatermarkCourse: decision.Lecture.CourseTitle,
		ExpiresIn:       int(MediaTokenDuration / time.Second),
	})
}

func writeDenial(w http.ResponseWriter, reason DenyReason) {
	switch reason {
	case DenyLectureNotFound:
		httputil.WriteError(w, http.StatusNotFound, "lecture not found")
	case DenyEnrollmentPending:
		httputil.WriteDenial(w, http.StatusForbidden, string(DenyEnrollmentPending), "enrollment awaiting approval")
	default:
		httputil.WriteDenial(w, http.StatusForbidden, string(DenyNotEnrolled), "not enrolled in this course")
	}
}

package playback

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lectern/lectern/internal/httputil"
)

const presignExpiry = 15 * time.Minute

// Stream exchanges a valid media token for a short-lived storage URL.
// The token authenticates the request on its own; no session cookie is
// required, so the player can hand the URL straight to the video element.
// Enrollment is re-checked at fetch time so a revoked viewer loses access
// even while holding an unexpired token.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	lectureID := chi.URLParam(r, "id")

	claims, err := ValidateMediaToken(h.mediaSecret, r.URL.Query().Get("token"))
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid or expired media token")
		return
	}
	if claims.LectureID != lectureID {
		httputil.WriteError(w, http.StatusUnauthorized, "token not valid for this lecture")
		return
	}

	decision, err := Authorize(r.Context(), h.db, claims.ViewerID, lectureID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "unable to load lecture")
		return
	}
	if !decision.Allowed {
		writeDenial(w, decision.Reason)
		return
	}
	if !decision.Lecture.Playable() {
		httputil.WriteError(w, http.StatusNotFound, "video not uploaded")
		return
	}

	url, err := h.storage.GenerateDownloadURL(r.Context(), *decision.Lecture.VideoKey, presignExpiry)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "unable to sign media url")
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

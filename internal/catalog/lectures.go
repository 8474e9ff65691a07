package catalog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/lectern/lectern/internal/httputil"
	"github.com/lectern/lectern/internal/validate"
)

type createLectureRequest struct {
	Title           string `json:"title"`
	OrderIndex      int    `json:"orderIndex"`
	DurationSeconds int    `json:"durationSeconds"`
	FileSize        int64  `json:"fileSize"`
	ContentType     string `json:"contentType"`
}

type createLectureResponse struct {
	ID        string `json:"id"`
	UploadURL string `json:"uploadUrl"`
}

// CreateLecture registers a lecture and hands back a presigned upload URL
// so the video goes straight to the bucket. The lecture stays in
// video_status 'uploading' until ConfirmUpload verifies the object
// actually landed.
func (h *Handler) CreateLecture(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")

	var req createLectureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title is required")
		return
	}
	if msg := validate.LectureTitle(req.Title); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if req.DurationSeconds < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "duration must not be negative")
		return
	}
	if req.FileSize <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "fileSize must be positive")
		return
	}
	if h.maxUploadBytes > 0 && req.FileSize > h.maxUploadBytes {
		httputil.WriteError(w, http.StatusBadRequest, "file too large")
		return
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}
	if contentType != "video/mp4" && contentType != "video/webm" {
		httputil.WriteError(w, http.StatusBadRequest, "only video/mp4 and video/webm uploads are supported")
		return
	}

	var courseExists bool
	if err := h.db.QueryRow(r.Context(),
		`SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`, courseID,
	).Scan(&courseExists); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load course")
		return
	}
	if !courseExists {
		httputil.WriteError(w, http.StatusNotFound, "course not found")
		return
	}

	videoKey, err := lectureVideoKey(courseID, contentType)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create lecture")
		return
	}

	var lectureID string
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO lectures (course_id, title, order_index, duration_seconds, video_key, video_status)
		 VALUES ($1, $2, $3, $4, $5, 'uploading') RETURNING id`,
		courseID, req.Title, req.OrderIndex, req.DurationSeconds, videoKey,
	).Scan(&lectureID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create lecture")
		return
	}

	uploadURL, err := h.storage.GenerateUploadURL(r.Context(), videoKey, contentType, req.FileSize, 30*time.Minute)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate upload URL")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, createLectureResponse{
		ID:        lectureID,
		UploadURL: uploadURL,
	})
}

// ConfirmUpload checks the object exists in the bucket before marking the
// lecture ready: a client that never finished its upload cannot flip the
// status.
func (h *Handler) ConfirmUpload(w http.ResponseWriter, r *http.Request) {
	lectureID := chi.URLParam(r, "id")

	var videoKey *string
	err := h.db.QueryRow(r.Context(),
		`SELECT video_key FROM lectures WHERE id = $1`, lectureID,
	).Scan(&videoKey)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "lecture not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load lecture")
		return
	}
	if videoKey == nil {
		httputil.WriteError(w, http.StatusConflict, "lecture has no pending upload")
		return
	}

	size, _, err := h.storage.HeadObject(r.Context(), *videoKey)
	if err != nil || size == 0 {
		httputil.WriteError(w, http.StatusConflict, "uploaded object not found")
		return
	}

	if _, err := h.db.Exec(r.Context(),
		`UPDATE lectures SET video_status = 'ready', updated_at = now() WHERE id = $1`,
		lectureID,
	); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update lecture")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type updateLectureRequest struct {
	Title           string `json:"title"`
	OrderIndex      *int   `json:"orderIndex"`
	DurationSeconds *int   `json:"durationSeconds"`
}

func (h *Handler) UpdateLecture(w http.ResponseWriter, r *http.Request) {
	lectureID := chi.URLParam(r, "id")

	var req updateLectureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title is required")
		return
	}
	if msg := validate.LectureTitle(req.Title); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if req.DurationSeconds != nil && *req.DurationSeconds < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "duration must not be negative")
		return
	}

	tag, err := h.db.Exec(r.Context(),
		`UPDATE lectures SET title = $1,
		        order_index = COALESCE($2, order_index),
		        duration_seconds = COALESCE($3, duration_seconds),
		        updated_at = now()
		 WHERE id = $4`,
		req.Title, req.OrderIndex, req.DurationSeconds, lectureID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update lecture")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "lecture not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteLecture(w http.ResponseWriter, r *http.Request) {
	lectureID := chi.URLParam(r, "id")

	var videoKey *string
	err := h.db.QueryRow(r.Context(),
		`DELETE FROM lectures WHERE id = $1 RETURNING video_key`, lectureID,
	).Scan(&videoKey)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "lecture not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete lecture")
		return
	}

	if videoKey != nil {
		key := *videoKey
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if err := deleteWithRetry(ctx, h.storage, key, 3); err != nil {
				slog.Error("catalog: failed to delete lecture video", "key", key, "error", err)
			}
		}()
	}

	w.WriteHeader(http.StatusNoContent)
}

func lectureVideoKey(courseID, contentType string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	ext := ".mp4"
	if strings.Contains(contentType, "webm") {
		ext = ".webm"
	}
	return fmt.Sprintf("lectures/%s/%s%s", courseID, hex.EncodeToString(b), ext), nil
}

func deleteWithRetry(ctx context.Context, storage ObjectStorage, key string, maxAttempts int) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = storage.DeleteObject(ctx, key)
		if lastErr == nil {
			return nil
		}
		slog.Error("storage: delete attempt failed", "attempt", attempt+1, "max_attempts", maxAttempts, "key", key, "error", lastErr)
	}
	return fmt.Errorf("all %d delete attempts failed for %s: %w", maxAttempts, key, lastErr)
}

package playback

import (
	"context"
	"time"

	"github.com/lectern/lectern/internal/database"
	"github.com/lectern/lectern/internal/geoip"
)

// ObjectStorage is the slice of the storage layer playback needs: resolving
// a lecture's video object into a short-lived fetchable URL.
type ObjectStorage interface {
	GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// CompletionSink receives durable lecture-completion facts. It runs after
// the checkpoint ack is written; a failing sink never propagates back into
// the playback response.
type CompletionSink interface {
	LectureCompleted(ctx context.Context, studentID, lectureID, courseID string)
}

type Handler struct {
	db             database.DBTX
	storage        ObjectStorage
	baseURL        string
	mediaSecret    string
	geo            *geoip.Resolver
	completionSink CompletionSink
}

func NewHandler(db database.DBTX, storage ObjectStorage, baseURL, mediaSecret string) *Handler {
	return &Handler{
		db:          db,
		storage:     storage,
		baseURL:     baseURL,
		mediaSecret: mediaSecret,
	}
}

func (h *Handler) SetGeoResolver(geo *geoip.Resolver) {
	h.geo = geo
}

func (h *Handler) SetCompletionSink(sink CompletionSink) {
	h.completionSink = sink
}

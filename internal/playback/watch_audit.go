package playback

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lectern/lectern/internal/database"
	"github.com/mssola/useragent"
)

// recordWatchSession writes an audit row for a session issuance. It runs
// off the request goroutine so a slow insert never delays the player, and
// failures are logged rather than surfaced.
func (h *Handler) recordWatchSession(r *http.Request, viewerID, lectureID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		ip := clientIP(r)
		browser := parseBrowser(r.UserAgent())
		device := parseDevice(r.UserAgent())
		var country, city string
		if h.geo != nil {
			country, city = h.geo.Lookup(ip)
		}
		if _, err := h.db.Exec(ctx,
			`INSERT INTO watch_sessions (student_id, lecture_id, ip, country, city, browser, device)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			viewerID, lectureID, ip, country, city, browser, device,
		); err != nil {
			slog.Error("playback: failed to record watch session", "lecture_id", lectureID, "error", err)
		}
	}()
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}
	return r.RemoteAddr
}

func parseBrowser(uaString string) string {
	if uaString == "" {
		return "Other"
	}
	if strings.Contains(uaString, "Edg/") {
		return "Edge"
	}
	ua := useragent.New(uaString)
	name, _ := ua.Browser()
	if name == "" {
		return "Other"
	}
	return name
}

func parseDevice(uaString string) string {
	if uaString == "" {
		return "Desktop"
	}
	ua := useragent.New(uaString)
	lower := strings.ToLower(uaString)
	if strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") {
		return "Tablet"
	}
	if strings.Contains(lower, "android") && !strings.Contains(lower, "mobile") {
		return "Tablet"
	}
	if ua.Mobile() {
		return "Mobile"
	}
	return "Desktop"
}

// StartWatchSessionTrim deletes audit rows older than the retention
// window on a fixed interval, until ctx is cancelled.
func StartWatchSessionTrim(ctx context.Context, db database.DBTX, retention, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				tag, err := db.Exec(tctx,
					`DELETE FROM watch_sessions WHERE created_at < now() - $1::interval`,
					retention.String())
				cancel()
				if err != nil {
					slog.Error("playback: failed to trim watch sessions", "error", err)
					continue
				}
				if tag.RowsAffected() > 0 {
					slog.Info("playback: trimmed watch sessions", "deleted", tag.RowsAffected())
				}
			}
		}
	}()
}

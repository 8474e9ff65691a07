package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/lectern/lectern/internal/database"
)

// StartTokenPurge deletes expired and revoked refresh tokens on a fixed
// interval, until ctx is cancelled. Expired rows are harmless but they
// accumulate for every login, so the table is trimmed in the background.
func StartTokenPurge(ctx context.Context, db database.DBTX, interval time.Duration) {
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
					`DELETE FROM refresh_tokens WHERE expires_at < now() OR revoked = true`)
				cancel()
				if err != nil {
					slog.Error("auth: failed to purge refresh tokens", "error", err)
					continue
				}
				if tag.RowsAffected() > 0 {
					slog.Info("auth: purged refresh tokens", "deleted", tag.RowsAffected())
				}
			}
		}
	}()
}

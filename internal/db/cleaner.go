package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// StartTombstoneCleaner prunes soft-deleted entity rows older than the
// retention window, on the given interval. Versions are unix milliseconds,
// so the cutoff is compared against the deletion version.
func StartTombstoneCleaner(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention).UnixMilli()
				var removed int64
				for _, table := range []string{"credentials", "handshakes", "profiles"} {
					res, err := db.ExecContext(ctx,
						`DELETE FROM `+table+` WHERE deleted = true AND version < $1`, cutoff)
					if err != nil {
						log.Error("failed to prune tombstones",
							zap.String("table", table), zap.Error(err))
						continue
					}
					if rows, _ := res.RowsAffected(); rows > 0 {
						removed += rows
					}
				}
				if removed > 0 {
					log.Info("pruned tombstones", zap.Int64("removed", removed))
				}
			}
		}
	}()
}

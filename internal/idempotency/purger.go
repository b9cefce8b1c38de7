package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// Purger removes expired idempotency records.
type Purger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPurger(db *gorm.DB) *Purger {
	return &Purger{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// PurgeExpired deletes every record whose expiry has passed and returns how many were removed.
func (p *Purger) PurgeExpired(ctx context.Context) (int64, error) {
	res := p.db.WithContext(ctx).Where("expires_at < ?", p.now()).Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge idempotency records: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		slog.InfoContext(ctx, "purged expired idempotency records", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultExportBatchSize = 500

// Exporter copies audit rows that have not been archived yet to an Archive as JSON lines.
// A row is stamped archived only after its batch was stored, so a failed run is simply retried.
type Exporter struct {
	db        *gorm.DB
	archive   Archive
	batchSize int
	now       func() time.Time
}

func NewExporter(db *gorm.DB, archive Archive, batchSize int) *Exporter {
	if batchSize <= 0 {
		batchSize = defaultExportBatchSize
	}
	return &Exporter{
		db:        db,
		archive:   archive,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ExportPending archives every pending row and returns how many were exported.
func (e *Exporter) ExportPending(ctx context.Context) (int, error) {
	if e.archive == nil {
		return 0, nil
	}

	total := 0
	for {
		n, err := e.exportBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < e.batchSize {
			break
		}
	}

	if total > 0 {
		slog.InfoContext(ctx, "audit logs archived", "count", total)
	}
	return total, nil
}

func (e *Exporter) exportBatch(ctx context.Context) (int, error) {
	var rows []Log
	err := e.db.WithContext(ctx).
		Where("archived_at IS NULL").
		Order("created_at, id").
		Limit(e.batchSize).
		Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load pending audit logs: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	ids := make([]uuid.UUID, 0, len(rows))
	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			return 0, fmt.Errorf("failed to encode audit log %s: %w", rows[i].ID, err)
		}
		ids = append(ids, rows[i].ID)
	}

	now := e.now()
	key := BatchKey(now, uuid.New())
	if err := e.archive.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("failed to store audit batch %s: %w", key, err)
	}

	if err := e.db.WithContext(ctx).Model(&Log{}).
		Where("id IN ?", ids).
		Update("archived_at", now).Error; err != nil {
		return 0, fmt.Errorf("failed to mark audit logs archived: %w", err)
	}

	slog.DebugContext(ctx, "audit batch stored", "key", key, "count", len(rows))
	return len(rows), nil
}

// BatchKey partitions archived batches by UTC day.
func BatchKey(at time.Time, batchID uuid.UUID) string {
	return fmt.Sprintf("audit/%s/%s.jsonl", at.UTC().Format("2006/01/02"), batchID)
}

package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Log is one append-only audit row. Rows are never updated except to stamp ArchivedAt
// once the exporter copied them to the archive.
type Log struct {
	ID            uuid.UUID       `gorm:"type:uuid;column:id;primaryKey" json:"id"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null;index" json:"createdAt"`
	ActorUserID   int64           `gorm:"column:actor_user_id;not null" json:"actorUserId"`
	Action        string          `gorm:"type:varchar(60);column:action;not null" json:"action"`            // e.g. WORKFLOW_STARTED, STOCK_MOVEMENT_POSTED
	EntityTable   string          `gorm:"type:varchar(60);column:entity_table;not null" json:"entityTable"` // Table of the changed row
	EntityID      string          `gorm:"type:varchar(64);column:entity_id;not null;index" json:"entityId"` // Key of the changed row
	CorrelationID string          `gorm:"type:varchar(100);column:correlation_id" json:"correlationId,omitempty"`
	Changes       json.RawMessage `gorm:"type:jsonb;column:changes;serializer:json" json:"changes"` // {"before": {...}, "after": {...}}
	ArchivedAt    *time.Time      `gorm:"column:archived_at;index" json:"archivedAt,omitempty"`
}

func (l *Log) TableName() string {
	return "audit_logs"
}

func (l *Log) BeforeCreate(tx *gorm.DB) (err error) {
	if l.ID == uuid.Nil {
		l.ID, err = uuid.NewRandom()
		if err != nil {
			return
		}
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	return
}

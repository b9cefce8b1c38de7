package idempotency

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusProcessing Status = "PROCESSING" // Claimed by an in-flight request
	StatusCompleted  Status = "COMPLETED"  // Result cached, replays return it
)

// Record deduplicates one mutating request of one actor on one route.
type Record struct {
	ID             int64           `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	ActorUserID    int64           `gorm:"column:actor_user_id;not null;uniqueIndex:idx_idempotency_scope" json:"actorUserId"`
	RouteKey       string          `gorm:"type:varchar(200);column:route_key;not null;uniqueIndex:idx_idempotency_scope" json:"routeKey"`
	ClientKey      string          `gorm:"type:varchar(200);column:client_key;not null;uniqueIndex:idx_idempotency_scope" json:"clientKey"`
	Status         Status          `gorm:"type:varchar(20);column:status;not null" json:"status"`
	MovementID     *int64          `gorm:"column:movement_id" json:"movementId,omitempty"`
	ResponseStatus *int            `gorm:"column:response_status" json:"responseStatus,omitempty"`
	ResponseBody   json.RawMessage `gorm:"type:jsonb;column:response_body;serializer:json" json:"responseBody,omitempty"`
	CreatedAt      time.Time       `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;not null" json:"updatedAt"`
	ExpiresAt      time.Time       `gorm:"column:expires_at;not null;index" json:"expiresAt"`
}

func (r *Record) TableName() string {
	return "idempotency_keys"
}

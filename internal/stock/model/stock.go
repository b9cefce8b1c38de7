package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockLevel holds the quantities of one product in one warehouse.
// After every posting: OnHand >= 0, Reserved >= 0 and Reserved <= OnHand.
type StockLevel struct {
	ID          int64           `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	WarehouseID int64           `gorm:"column:warehouse_id;not null;uniqueIndex:idx_stock_level_scope" json:"warehouseId"`
	ProductID   int64           `gorm:"column:product_id;not null;uniqueIndex:idx_stock_level_scope" json:"productId"`
	OnHand      decimal.Decimal `gorm:"type:numeric(18,4);column:on_hand;not null" json:"onHand"`
	Reserved    decimal.Decimal `gorm:"type:numeric(18,4);column:reserved;not null" json:"reserved"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (s *StockLevel) TableName() string {
	return "stock_levels"
}

// Available is the quantity that is neither reserved nor missing.
func (s *StockLevel) Available() decimal.Decimal {
	return s.OnHand.Sub(s.Reserved)
}

// StockMovement is the immutable header of one posting.
type StockMovement struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	MovementNo         string    `gorm:"type:varchar(30);column:movement_no;not null;uniqueIndex" json:"movementNo"`
	MovementTypeID     int64     `gorm:"column:movement_type_id;not null" json:"movementTypeId"`
	MovementStatusID   int64     `gorm:"column:movement_status_id;not null" json:"movementStatusId"`
	ReasonCodeID       *int64    `gorm:"column:reason_code_id" json:"reasonCodeId,omitempty"`
	WarehouseID        int64     `gorm:"column:warehouse_id;not null;index" json:"warehouseId"`
	RequestID          *int64    `gorm:"column:request_id;index" json:"requestId,omitempty"` // Inventory request the posting serves
	ReservationID      *int64    `gorm:"column:reservation_id" json:"reservationId,omitempty"`
	ReversedMovementID *int64    `gorm:"column:reversed_movement_id" json:"reversedMovementId,omitempty"` // Reserved for reversals, never set yet
	CreatedByUserID    int64     `gorm:"column:created_by_user_id;not null" json:"createdByUserId"`
	PostedByUserID     int64     `gorm:"column:posted_by_user_id;not null" json:"postedByUserId"`
	CorrelationID      string    `gorm:"type:varchar(100);column:correlation_id" json:"correlationId,omitempty"`
	Notes              *string   `gorm:"type:text;column:notes" json:"notes,omitempty"`
	CreatedAt          time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	PostedAt           time.Time `gorm:"column:posted_at;not null" json:"postedAt"`

	MovementType   *MovementType       `gorm:"foreignKey:MovementTypeID;references:ID" json:"movementType,omitempty"`
	MovementStatus *MovementStatus     `gorm:"foreignKey:MovementStatusID;references:ID" json:"movementStatus,omitempty"`
	ReasonCode     *ReasonCode         `gorm:"foreignKey:ReasonCodeID;references:ID" json:"reasonCode,omitempty"`
	Lines          []StockMovementLine `gorm:"foreignKey:MovementID;references:ID" json:"lines"`
}

func (m *StockMovement) TableName() string {
	return "stock_movements"
}

// StockMovementLine is one signed delta of a posting.
type StockMovementLine struct {
	ID            int64               `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	MovementID    int64               `gorm:"column:movement_id;not null;index" json:"movementId"`
	LineNo        int                 `gorm:"column:line_no;not null" json:"lineNo"`
	ProductID     int64               `gorm:"column:product_id;not null;index" json:"productId"`
	DeltaOnHand   decimal.Decimal     `gorm:"type:numeric(18,4);column:delta_on_hand;not null" json:"deltaOnHand"`
	DeltaReserved decimal.Decimal     `gorm:"type:numeric(18,4);column:delta_reserved;not null" json:"deltaReserved"`
	UnitCost      decimal.NullDecimal `gorm:"type:numeric(18,4);column:unit_cost" json:"unitCost"`
	Notes         *string             `gorm:"type:text;column:notes" json:"notes,omitempty"`
}

func (l *StockMovementLine) TableName() string {
	return "stock_movement_lines"
}

package model

// MovementTypeCode is the code of a movement type lookup row.
type MovementTypeCode string

const (
	MovementTypeReceipt        MovementTypeCode = "RECEIPT"
	MovementTypeIssue          MovementTypeCode = "ISSUE"
	MovementTypeReserve        MovementTypeCode = "RESERVE" // Only while the request is at a FULFILLMENT step
	MovementTypeRelease        MovementTypeCode = "RELEASE"
	MovementTypeConsumeReserve MovementTypeCode = "CONSUME_RESERVE"
	MovementTypeTransferIn     MovementTypeCode = "TRANSFER_IN"
	MovementTypeTransferOut    MovementTypeCode = "TRANSFER_OUT"
	MovementTypeAdjustmentIn   MovementTypeCode = "ADJUSTMENT_IN"
	MovementTypeAdjustmentOut  MovementTypeCode = "ADJUSTMENT_OUT"
	MovementTypeReturnIn       MovementTypeCode = "RETURN_IN"
	MovementTypeReturnOut      MovementTypeCode = "RETURN_OUT"
)

// MovementStatusCode is the code of a movement status lookup row.
type MovementStatusCode string

const (
	MovementStatusDraft    MovementStatusCode = "DRAFT"
	MovementStatusPosted   MovementStatusCode = "POSTED"
	MovementStatusReversed MovementStatusCode = "REVERSED"
)

// MovementType is a lookup row.
type MovementType struct {
	ID       int64            `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Code     MovementTypeCode `gorm:"type:varchar(40);column:code;not null;uniqueIndex" json:"code"`
	Name     string           `gorm:"type:varchar(100);column:name;not null" json:"name"`
	IsActive bool             `gorm:"column:is_active;not null" json:"isActive"`
}

func (m *MovementType) TableName() string {
	return "stock_movement_types"
}

// MovementStatus is a lookup row.
type MovementStatus struct {
	ID   int64              `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Code MovementStatusCode `gorm:"type:varchar(40);column:code;not null;uniqueIndex" json:"code"`
	Name string             `gorm:"type:varchar(100);column:name;not null" json:"name"`
}

func (m *MovementStatus) TableName() string {
	return "stock_movement_statuses"
}

// ReasonCode explains adjustments and returns.
type ReasonCode struct {
	ID       int64  `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Code     string `gorm:"type:varchar(40);column:code;not null;uniqueIndex" json:"code"`
	Name     string `gorm:"type:varchar(100);column:name;not null" json:"name"`
	IsActive bool   `gorm:"column:is_active;not null" json:"isActive"`
}

func (r *ReasonCode) TableName() string {
	return "stock_reason_codes"
}

package model

import "github.com/shopspring/decimal"

// PostMovementDTO is the request body of a posting.
type PostMovementDTO struct {
	MovementTypeCode string            `json:"movementTypeCode" binding:"required"`
	ReasonCode       string            `json:"reasonCode,omitempty"`
	WarehouseID      int64             `json:"warehouseId" binding:"required"`
	RequestID        *int64            `json:"requestId,omitempty"`
	ReservationID    *int64            `json:"reservationId,omitempty"`
	Notes            *string           `json:"notes,omitempty"`
	Lines            []MovementLineDTO `json:"lines" binding:"required,min=1,dive"`
}

// MovementLineDTO is one line of a posting request.
type MovementLineDTO struct {
	ProductID     int64            `json:"productId" binding:"required"`
	DeltaOnHand   decimal.Decimal  `json:"deltaOnHand"`
	DeltaReserved decimal.Decimal  `json:"deltaReserved"`
	UnitCost      *decimal.Decimal `json:"unitCost,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
}

// PostMovementResponseDTO is returned by a posting and cached for idempotent replays.
type PostMovementResponseDTO struct {
	MovementID int64  `json:"movementId"`
	MovementNo string `json:"movementNo,omitempty"`
}

// StockLevelListDTO lists the levels of one warehouse.
type StockLevelListDTO struct {
	WarehouseID int64        `json:"warehouseId"`
	Items       []StockLevel `json:"items"`
}

// ReservationBalanceDTO is the quantity a request still holds reserved on one product.
type ReservationBalanceDTO struct {
	WarehouseID int64           `json:"warehouseId"`
	ProductID   int64           `json:"productId"`
	Reserved    decimal.Decimal `json:"reserved"`
}

// ReservationListDTO lists the open reservations of a request.
type ReservationListDTO struct {
	RequestID int64                   `json:"requestId"`
	Items     []ReservationBalanceDTO `json:"items"`
}

// FulfillmentRequestDTO is the body of the request fulfillment endpoints.
type FulfillmentRequestDTO struct {
	WarehouseID int64                `json:"warehouseId" binding:"required"`
	Notes       *string              `json:"notes,omitempty"`
	Lines       []FulfillmentLineDTO `json:"lines" binding:"required,min=1,dive"`
}

// FulfillmentLineDTO is a positive quantity of one product.
type FulfillmentLineDTO struct {
	ProductID int64           `json:"productId" binding:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
}

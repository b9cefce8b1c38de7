package service

import "github.com/JonMonday/inv-sub000/internal/apperr"

var (
	ErrUnknownCode          = apperr.New(apperr.KindNotFound, "UNKNOWN_CODE", "lookup code not found")
	ErrMovementNotFound     = apperr.New(apperr.KindNotFound, "MOVEMENT_NOT_FOUND", "stock movement not found")
	ErrInvalidWorkflowState = apperr.New(apperr.KindInvalidState, "INVALID_WORKFLOW_STATE", "request is not at a fulfillment step")
	ErrInvalidMovement      = apperr.New(apperr.KindInvalidArgument, "INVALID_MOVEMENT", "invalid stock movement")
	ErrInsufficientStock    = apperr.New(apperr.KindInvariantViolation, "INSUFFICIENT_STOCK", "insufficient on-hand stock")
	ErrNegativeReservation  = apperr.New(apperr.KindInvariantViolation, "NEGATIVE_RESERVATION", "reserved quantity cannot become negative")
	ErrOverReservation      = apperr.New(apperr.KindInvariantViolation, "OVER_RESERVATION", "reserved quantity cannot exceed on-hand stock")
	ErrReplayWithoutResult  = apperr.New(apperr.KindConcurrentConflict, "IDEMPOTENT_RESULT_MISSING", "completed idempotency record carries no movement")
)

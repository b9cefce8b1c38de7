package fulfillment

import "github.com/JonMonday/inv-sub000/internal/apperr"

var (
	ErrInvalidFulfillment = apperr.New(apperr.KindInvalidArgument, "INVALID_FULFILLMENT", "invalid fulfillment lines")
	ErrNotAtFulfillment   = apperr.New(apperr.KindInvalidState, "NOT_AT_FULFILLMENT", "request is not at a fulfillment step")
	ErrExceedsReservation = apperr.New(apperr.KindInvariantViolation, "EXCEEDS_RESERVATION", "quantity exceeds what the request holds reserved")
)

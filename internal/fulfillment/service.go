// Package fulfillment moves the stock of inventory requests as their workflow advances, either from
// workflow actions or from the request fulfillment endpoints.
package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/JonMonday/inv-sub000/internal/apperr"
	stockmodel "github.com/JonMonday/inv-sub000/internal/stock/model"
	stockservice "github.com/JonMonday/inv-sub000/internal/stock/service"
	"github.com/JonMonday/inv-sub000/internal/tracing"
	wfmodel "github.com/JonMonday/inv-sub000/internal/workflow/model"
	wfservice "github.com/JonMonday/inv-sub000/internal/workflow/service"
)

// Ledger posts movements inside the caller's transaction.
type Ledger interface {
	PostMovementInTx(ctx context.Context, tx *gorm.DB, req stockservice.PostMovementRequest, idem *stockservice.IdempotencyOptions) (*stockservice.PostResult, error)
}

// Reservations reads what a request still holds reserved.
type Reservations interface {
	OutstandingReservationsInTx(ctx context.Context, tx *gorm.DB, requestID int64) ([]stockmodel.ReservationBalanceDTO, error)
}

// WorkflowStateReader tells which kind of step drives a request.
type WorkflowStateReader interface {
	CurrentStepTypeForRequestInTx(ctx context.Context, tx *gorm.DB, requestID int64) (wfmodel.StepType, error)
}

// confirmationStepKeys name the step at which the requester confirms receipt.
var confirmationStepKeys = []string{"CONFIRM", "CONFIRMATION"}

// IsConfirmationStep reports whether step is where the requester confirms receipt.
func IsConfirmationStep(step *wfmodel.WorkflowStep) bool {
	for _, key := range confirmationStepKeys {
		if strings.EqualFold(step.StepKey, key) {
			return true
		}
	}
	return false
}

// Line is a quantity of one product.
type Line struct {
	ProductID int64
	Quantity  decimal.Decimal
}

// ActionLine is one entry of the fulfillments payload of a FULFILLMENT step action.
type ActionLine struct {
	WarehouseID int64           `json:"warehouseId"`
	ProductID   int64           `json:"productId"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// ActionPayload is the payload of an APPROVE or COMPLETE at a FULFILLMENT step.
type ActionPayload struct {
	Fulfillments []ActionLine `json:"fulfillments"`
}

// RequestMovement moves stock of one warehouse on behalf of one request.
type RequestMovement struct {
	RequestID     int64
	WarehouseID   int64
	Lines         []Line
	ActorUserID   int64
	CorrelationID string
	Notes         *string
	Idempotency   stockservice.IdempotencyOptions
}

// Service posts the stock movements of inventory requests.
type Service struct {
	db           *gorm.DB
	ledger       Ledger
	reservations Reservations
	workflow     WorkflowStateReader
}

func NewService(db *gorm.DB, ledger Ledger, reservations Reservations, workflow WorkflowStateReader) *Service {
	return &Service{
		db:           db,
		ledger:       ledger,
		reservations: reservations,
		workflow:     workflow,
	}
}

// OnActionInTx reserves the payload lines of an APPROVE or COMPLETE at a FULFILLMENT step and consumes
// the request's reservations when the requester confirms. It runs in the action's transaction, so a
// rejected posting rolls the action back. Instances not started for an inventory request are ignored.
func (s *Service) OnActionInTx(ctx context.Context, tx *gorm.DB, event wfservice.ActionEvent) error {
	if event.Action != wfmodel.ActionApprove && event.Action != wfmodel.ActionComplete {
		return nil
	}
	requestID, ok := wfmodel.ParseRequestBusinessKey(event.Instance.BusinessKey)
	if !ok {
		return nil
	}

	switch {
	case event.Step.StepType == wfmodel.StepTypeFulfillment:
		return s.reserveFromPayloadInTx(ctx, tx, requestID, event)
	case IsConfirmationStep(event.Step):
		return s.consumeOnConfirmationInTx(ctx, tx, requestID, event)
	}
	return nil
}

func (s *Service) reserveFromPayloadInTx(ctx context.Context, tx *gorm.DB, requestID int64, event wfservice.ActionEvent) error {
	lines, err := parseActionPayload(event.Payload)
	if err != nil {
		return err
	}

	for _, line := range lines {
		result, err := s.ledger.PostMovementInTx(ctx, tx, stockservice.PostMovementRequest{
			MovementTypeCode: string(stockmodel.MovementTypeReserve),
			WarehouseID:      line.WarehouseID,
			RequestID:        &requestID,
			ActorUserID:      event.UserID,
			CorrelationID:    event.CorrelationID,
			Lines:            []stockservice.LineRequest{{ProductID: line.ProductID, DeltaReserved: line.Quantity}},
		}, actionIdempotency(event, fmt.Sprintf("fulfill:%s:%d", event.Task.ID, line.ProductID)))
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "fulfillment reserved",
			"request_id", requestID,
			"task_id", event.Task.ID,
			"warehouse_id", line.WarehouseID,
			"product_id", line.ProductID,
			"quantity", line.Quantity.String(),
			"movement_id", result.MovementID,
		)
	}
	return nil
}

// consumeOnConfirmationInTx takes every outstanding reservation of the request off the shelf, one
// movement per warehouse.
func (s *Service) consumeOnConfirmationInTx(ctx context.Context, tx *gorm.DB, requestID int64, event wfservice.ActionEvent) error {
	balances, err := s.reservations.OutstandingReservationsInTx(ctx, tx, requestID)
	if err != nil {
		return err
	}

	byWarehouse := make(map[int64][]stockservice.LineRequest)
	warehouses := make([]int64, 0)
	for _, b := range balances {
		if _, seen := byWarehouse[b.WarehouseID]; !seen {
			warehouses = append(warehouses, b.WarehouseID)
		}
		byWarehouse[b.WarehouseID] = append(byWarehouse[b.WarehouseID], stockservice.LineRequest{
			ProductID:     b.ProductID,
			DeltaOnHand:   b.Reserved.Neg(),
			DeltaReserved: b.Reserved.Neg(),
		})
	}

	for _, warehouseID := range warehouses {
		result, err := s.ledger.PostMovementInTx(ctx, tx, stockservice.PostMovementRequest{
			MovementTypeCode: string(stockmodel.MovementTypeConsumeReserve),
			WarehouseID:      warehouseID,
			RequestID:        &requestID,
			ActorUserID:      event.UserID,
			CorrelationID:    event.CorrelationID,
			Lines:            byWarehouse[warehouseID],
		}, actionIdempotency(event, fmt.Sprintf("confirm:%s:%d", event.Task.ID, warehouseID)))
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "fulfillment issued on confirmation",
			"request_id", requestID,
			"task_id", event.Task.ID,
			"warehouse_id", warehouseID,
			"line_count", len(byWarehouse[warehouseID]),
			"movement_id", result.MovementID,
		)
	}
	return nil
}

// actionIdempotency scopes the postings of one action to its task. A client key sent with the
// action prefixes the derived key.
func actionIdempotency(event wfservice.ActionEvent, derived string) *stockservice.IdempotencyOptions {
	key := derived
	if event.IdempotencyKey != "" {
		key = event.IdempotencyKey + ":" + derived
	}
	return &stockservice.IdempotencyOptions{
		RouteKey:  "workflow:task:" + event.Task.ID.String(),
		ClientKey: key,
	}
}

func parseActionPayload(raw json.RawMessage) ([]ActionLine, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var payload ActionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrInvalidFulfillment.Newf("invalid fulfillment payload: %v", err)
	}

	seen := make(map[int64]bool, len(payload.Fulfillments))
	for i, line := range payload.Fulfillments {
		if line.WarehouseID <= 0 || line.ProductID <= 0 {
			return nil, ErrInvalidFulfillment.Newf("fulfillment %d: warehouse and product ids must be positive", i+1)
		}
		if !line.Quantity.IsPositive() {
			return nil, ErrInvalidFulfillment.Newf("fulfillment %d: quantity must be positive", i+1)
		}
		if seen[line.ProductID] {
			return nil, ErrInvalidFulfillment.Newf("fulfillment %d: product %d is listed twice", i+1, line.ProductID)
		}
		seen[line.ProductID] = true
	}
	return payload.Fulfillments, nil
}

// Reserve holds stock for a request at its FULFILLMENT step.
func (s *Service) Reserve(ctx context.Context, req RequestMovement) (result *stockservice.PostResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "fulfillment.Reserve")
	defer func() { span.End(err) }()

	return s.post(ctx, "reserve", req, func(ctx context.Context, tx *gorm.DB, post *stockservice.PostMovementRequest) error {
		post.MovementTypeCode = string(stockmodel.MovementTypeReserve)
		for _, l := range req.Lines {
			post.Lines = append(post.Lines, stockservice.LineRequest{ProductID: l.ProductID, DeltaReserved: l.Quantity})
		}
		return nil
	})
}

// Release gives back stock the request holds reserved in the warehouse.
func (s *Service) Release(ctx context.Context, req RequestMovement) (result *stockservice.PostResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "fulfillment.Release")
	defer func() { span.End(err) }()

	return s.post(ctx, "release", req, func(ctx context.Context, tx *gorm.DB, post *stockservice.PostMovementRequest) error {
		held, err := s.heldInTx(ctx, tx, req.RequestID, req.WarehouseID)
		if err != nil {
			return err
		}
		post.MovementTypeCode = string(stockmodel.MovementTypeRelease)
		for _, l := range req.Lines {
			if l.Quantity.GreaterThan(held[l.ProductID]) {
				return ErrExceedsReservation.Newf("request %d holds %s of product %d, cannot release %s",
					req.RequestID, held[l.ProductID], l.ProductID, l.Quantity)
			}
			held[l.ProductID] = held[l.ProductID].Sub(l.Quantity)
			post.Lines = append(post.Lines, stockservice.LineRequest{ProductID: l.ProductID, DeltaReserved: l.Quantity.Neg()})
		}
		return nil
	})
}

// Issue takes stock out for a request. While the request holds reservations in the warehouse the
// issue consumes them first (CONSUME_RESERVE); otherwise it is a plain ISSUE.
func (s *Service) Issue(ctx context.Context, req RequestMovement) (result *stockservice.PostResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "fulfillment.Issue")
	defer func() { span.End(err) }()

	return s.post(ctx, "issue", req, func(ctx context.Context, tx *gorm.DB, post *stockservice.PostMovementRequest) error {
		held, err := s.heldInTx(ctx, tx, req.RequestID, req.WarehouseID)
		if err != nil {
			return err
		}
		if len(held) == 0 {
			post.MovementTypeCode = string(stockmodel.MovementTypeIssue)
			for _, l := range req.Lines {
				post.Lines = append(post.Lines, stockservice.LineRequest{ProductID: l.ProductID, DeltaOnHand: l.Quantity.Neg()})
			}
			return nil
		}

		post.MovementTypeCode = string(stockmodel.MovementTypeConsumeReserve)
		for _, l := range req.Lines {
			consumed := decimal.Min(l.Quantity, held[l.ProductID])
			held[l.ProductID] = held[l.ProductID].Sub(consumed)
			post.Lines = append(post.Lines, stockservice.LineRequest{
				ProductID:     l.ProductID,
				DeltaOnHand:   l.Quantity.Neg(),
				DeltaReserved: consumed.Neg(),
			})
		}
		return nil
	})
}

// post runs one request-driven posting in its own transaction. build fills in the movement type and
// lines after the idempotency check and the FULFILLMENT step check passed.
func (s *Service) post(ctx context.Context, operation string, req RequestMovement, build func(ctx context.Context, tx *gorm.DB, post *stockservice.PostMovementRequest) error) (*stockservice.PostResult, error) {
	if err := validateRequestMovement(req); err != nil {
		return nil, err
	}

	requestID := req.RequestID
	posting := stockservice.PostMovementRequest{
		WarehouseID:   req.WarehouseID,
		RequestID:     &requestID,
		ActorUserID:   req.ActorUserID,
		CorrelationID: req.CorrelationID,
		Notes:         req.Notes,
		Prepare: func(ctx context.Context, tx *gorm.DB, post *stockservice.PostMovementRequest) error {
			if err := s.checkFulfillmentStepInTx(ctx, tx, requestID); err != nil {
				return err
			}
			return build(ctx, tx, post)
		},
	}
	idem := req.Idempotency

	var result *stockservice.PostResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.ledger.PostMovementInTx(ctx, tx, posting, &idem)
		return err
	})
	if err != nil {
		slog.WarnContext(ctx, "request fulfillment rejected",
			"operation", operation,
			"request_id", req.RequestID,
			"warehouse_id", req.WarehouseID,
			"actor_user_id", req.ActorUserID,
			"error", err,
		)
		return nil, err
	}

	slog.InfoContext(ctx, "request fulfillment posted",
		"operation", operation,
		"request_id", req.RequestID,
		"warehouse_id", req.WarehouseID,
		"movement_id", result.MovementID,
		"replayed", result.Replayed,
	)
	return result, nil
}

func (s *Service) checkFulfillmentStepInTx(ctx context.Context, tx *gorm.DB, requestID int64) error {
	stepType, err := s.workflow.CurrentStepTypeForRequestInTx(ctx, tx, requestID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return ErrNotAtFulfillment.Newf("request %d has no active workflow", requestID)
		}
		return err
	}
	if stepType != wfmodel.StepTypeFulfillment {
		return ErrNotAtFulfillment.Newf("request %d is at a %s step", requestID, stepType)
	}
	return nil
}

// heldInTx returns the reserved quantity per product the request holds in one warehouse.
func (s *Service) heldInTx(ctx context.Context, tx *gorm.DB, requestID, warehouseID int64) (map[int64]decimal.Decimal, error) {
	balances, err := s.reservations.OutstandingReservationsInTx(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	held := make(map[int64]decimal.Decimal)
	for _, b := range balances {
		if b.WarehouseID == warehouseID {
			held[b.ProductID] = b.Reserved
		}
	}
	return held, nil
}

func validateRequestMovement(req RequestMovement) error {
	if req.RequestID <= 0 || req.WarehouseID <= 0 {
		return ErrInvalidFulfillment.Newf("request and warehouse ids must be positive")
	}
	if req.ActorUserID == 0 {
		return ErrInvalidFulfillment.Newf("actor is required")
	}
	if req.Idempotency.ClientKey == "" {
		return ErrInvalidFulfillment.Newf("an idempotency key is required")
	}
	if len(req.Lines) == 0 {
		return ErrInvalidFulfillment.Newf("at least one line is required")
	}
	for i, l := range req.Lines {
		if l.ProductID <= 0 {
			return ErrInvalidFulfillment.Newf("line %d: product id must be positive", i+1)
		}
		if !l.Quantity.IsPositive() {
			return ErrInvalidFulfillment.Newf("line %d: quantity must be positive", i+1)
		}
	}
	return nil
}

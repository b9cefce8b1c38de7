package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JonMonday/inv-sub000/internal/apperr"
	"github.com/JonMonday/inv-sub000/internal/audit"
	"github.com/JonMonday/inv-sub000/internal/idempotency"
	"github.com/JonMonday/inv-sub000/internal/stock/model"
	"github.com/JonMonday/inv-sub000/internal/tracing"
	wfmodel "github.com/JonMonday/inv-sub000/internal/workflow/model"
)

// IdempotencyGuard deduplicates postings inside the posting transaction.
type IdempotencyGuard interface {
	CheckOrBeginInTx(ctx context.Context, tx *gorm.DB, scope idempotency.Scope) (*idempotency.Result, error)
	CompleteInTx(ctx context.Context, tx *gorm.DB, handle *idempotency.Handle, movementID int64, responseStatus int, response any) error
}

// WorkflowStateReader tells which kind of step drives an inventory request.
type WorkflowStateReader interface {
	CurrentStepTypeForRequestInTx(ctx context.Context, tx *gorm.DB, requestID int64) (wfmodel.StepType, error)
}

// AuditSink records a summary of each posting.
type AuditSink interface {
	LogChange(ctx context.Context, tx *gorm.DB, entry audit.Entry) error
}

// LineRequest is one signed delta.
type LineRequest struct {
	ProductID     int64
	DeltaOnHand   decimal.Decimal
	DeltaReserved decimal.Decimal
	UnitCost      *decimal.Decimal
	Notes         *string
}

// PostMovementRequest describes one posting.
type PostMovementRequest struct {
	MovementTypeCode string
	ReasonCode       string
	WarehouseID      int64
	RequestID        *int64
	ReservationID    *int64
	ActorUserID      int64
	CorrelationID    string
	Notes            *string
	Lines            []LineRequest

	// Prepare, when set, runs inside the posting transaction after the idempotency check and before
	// anything is written. It may complete req from the state it reads. Replays skip it.
	Prepare func(ctx context.Context, tx *gorm.DB, req *PostMovementRequest) error
}

// IdempotencyOptions turns on deduplication of a posting.
type IdempotencyOptions struct {
	RouteKey  string
	ClientKey string
}

// PostResult is the movement a posting created, or replayed.
type PostResult struct {
	MovementID int64
	MovementNo string
	Replayed   bool
}

// LedgerService applies stock movements. Every posting is one transaction: the idempotency record,
// the movement, every level change and the audit row commit together or not at all.
type LedgerService struct {
	db       *gorm.DB
	lookups  *LookupService
	guard    IdempotencyGuard
	workflow WorkflowStateReader
	audit    AuditSink
	now      func() time.Time
}

func NewLedgerService(db *gorm.DB, lookups *LookupService, guard IdempotencyGuard, workflow WorkflowStateReader, auditSink AuditSink) *LedgerService {
	return &LedgerService{
		db:       db,
		lookups:  lookups,
		guard:    guard,
		workflow: workflow,
		audit:    auditSink,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PostMovement validates and applies a movement in its own transaction. With idem set, a repeated call
// for the same actor, route and key returns the first movement without applying anything again.
func (s *LedgerService) PostMovement(ctx context.Context, req PostMovementRequest, idem *IdempotencyOptions) (result *PostResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "stock.PostMovement")
	defer func() { span.End(err) }()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.PostMovementInTx(ctx, tx, req, idem)
		return err
	})
	if err != nil {
		slog.WarnContext(ctx, "stock movement rejected",
			"type", req.MovementTypeCode,
			"warehouse_id", req.WarehouseID,
			"actor_user_id", req.ActorUserID,
			"error", err,
		)
		return nil, err
	}

	if result.Replayed {
		slog.InfoContext(ctx, "stock movement replayed", "movement_id", result.MovementID, "actor_user_id", req.ActorUserID)
	} else {
		slog.InfoContext(ctx, "stock movement posted",
			"movement_id", result.MovementID,
			"movement_no", result.MovementNo,
			"type", req.MovementTypeCode,
			"warehouse_id", req.WarehouseID,
			"line_count", len(req.Lines),
		)
	}
	return result, nil
}

// PostMovementInTx applies a movement inside the caller's transaction, so that a workflow action and
// the stock it moves commit or roll back together. Any error leaves tx to be rolled back by the caller.
func (s *LedgerService) PostMovementInTx(ctx context.Context, tx *gorm.DB, req PostMovementRequest, idem *IdempotencyOptions) (*PostResult, error) {
	if req.Prepare == nil {
		if err := validatePostRequest(req); err != nil {
			return nil, err
		}
	}

	var handle *idempotency.Handle
	if idem != nil && idem.ClientKey != "" {
		check, err := s.guard.CheckOrBeginInTx(ctx, tx, idempotency.Scope{
			ActorUserID: req.ActorUserID,
			RouteKey:    idem.RouteKey,
			ClientKey:   idem.ClientKey,
		})
		if err != nil {
			return nil, err
		}
		if check.Reused() {
			if check.MovementID == nil {
				return nil, ErrReplayWithoutResult.Newf("idempotency key %q has no movement", idem.ClientKey)
			}
			result := &PostResult{MovementID: *check.MovementID, Replayed: true}
			var cached model.PostMovementResponseDTO
			if json.Unmarshal(check.ResponseBody, &cached) == nil {
				result.MovementNo = cached.MovementNo
			}
			return result, nil
		}
		handle = check.Handle
	}

	if req.Prepare != nil {
		if err := req.Prepare(ctx, tx, &req); err != nil {
			return nil, err
		}
		if err := validatePostRequest(req); err != nil {
			return nil, err
		}
	}

	movementType, err := s.lookups.MovementTypeByCodeInTx(ctx, tx, req.MovementTypeCode)
	if err != nil {
		return nil, err
	}
	posted, err := s.lookups.MovementStatusByCodeInTx(ctx, tx, model.MovementStatusPosted)
	if err != nil {
		return nil, err
	}
	var reasonCodeID *int64
	if req.ReasonCode != "" {
		reason, err := s.lookups.ReasonCodeByCodeInTx(ctx, tx, req.ReasonCode)
		if err != nil {
			return nil, err
		}
		reasonCodeID = &reason.ID
	}

	if movementType.Code == model.MovementTypeReserve && req.RequestID != nil {
		if err := s.checkReservableInTx(ctx, tx, *req.RequestID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	movement := &model.StockMovement{
		MovementNo:       newMovementNo(now),
		MovementTypeID:   movementType.ID,
		MovementStatusID: posted.ID,
		ReasonCodeID:     reasonCodeID,
		WarehouseID:      req.WarehouseID,
		RequestID:        req.RequestID,
		ReservationID:    req.ReservationID,
		CreatedByUserID:  req.ActorUserID,
		PostedByUserID:   req.ActorUserID,
		CorrelationID:    req.CorrelationID,
		Notes:            req.Notes,
		CreatedAt:        now,
		PostedAt:         now,
	}
	if err := tx.WithContext(ctx).Omit(clause.Associations).Create(movement).Error; err != nil {
		return nil, fmt.Errorf("failed to create stock movement: %w", err)
	}

	lines := make([]model.StockMovementLine, 0, len(req.Lines))
	for i, l := range req.Lines {
		line := model.StockMovementLine{
			MovementID:    movement.ID,
			LineNo:        i + 1,
			ProductID:     l.ProductID,
			DeltaOnHand:   l.DeltaOnHand,
			DeltaReserved: l.DeltaReserved,
			Notes:         l.Notes,
		}
		if l.UnitCost != nil {
			line.UnitCost = decimal.NewNullDecimal(*l.UnitCost)
		}
		lines = append(lines, line)
	}
	if err := tx.WithContext(ctx).Create(&lines).Error; err != nil {
		return nil, fmt.Errorf("failed to create stock movement lines: %w", err)
	}

	if err := s.applyDeltasInTx(ctx, tx, req.WarehouseID, req.Lines, now); err != nil {
		return nil, err
	}

	if handle != nil {
		response := model.PostMovementResponseDTO{MovementID: movement.ID, MovementNo: movement.MovementNo}
		if err := s.guard.CompleteInTx(ctx, tx, handle, movement.ID, http.StatusOK, response); err != nil {
			return nil, err
		}
	}

	after := map[string]any{
		"movementId":  movement.ID,
		"movementNo":  movement.MovementNo,
		"type":        string(movementType.Code),
		"warehouseId": req.WarehouseID,
		"lineCount":   len(req.Lines),
	}
	if req.RequestID != nil {
		after["requestId"] = *req.RequestID
	}
	if err := s.audit.LogChange(ctx, tx, audit.Entry{
		ActorUserID:   req.ActorUserID,
		Action:        "STOCK_MOVEMENT_POSTED",
		EntityTable:   movement.TableName(),
		EntityID:      fmt.Sprintf("%d", movement.ID),
		CorrelationID: req.CorrelationID,
		After:         after,
	}); err != nil {
		return nil, fmt.Errorf("failed to audit stock movement: %w", err)
	}

	return &PostResult{MovementID: movement.ID, MovementNo: movement.MovementNo}, nil
}

// checkReservableInTx only lets a request reserve stock while its workflow sits at a FULFILLMENT step.
func (s *LedgerService) checkReservableInTx(ctx context.Context, tx *gorm.DB, requestID int64) error {
	stepType, err := s.workflow.CurrentStepTypeForRequestInTx(ctx, tx, requestID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return ErrInvalidWorkflowState.Newf("request %d has no active workflow", requestID)
		}
		return err
	}
	if stepType != wfmodel.StepTypeFulfillment {
		return ErrInvalidWorkflowState.Newf("request %d is at a %s step, reservations need %s", requestID, stepType, wfmodel.StepTypeFulfillment)
	}
	return nil
}

type lineDelta struct {
	productID     int64
	deltaOnHand   decimal.Decimal
	deltaReserved decimal.Decimal
}

// applyDeltasInTx locks the affected levels in ascending product order and applies the summed deltas.
func (s *LedgerService) applyDeltasInTx(ctx context.Context, tx *gorm.DB, warehouseID int64, lines []LineRequest, now time.Time) error {
	for _, d := range sumByProduct(lines) {
		level, err := s.lockLevelInTx(ctx, tx, warehouseID, d.productID, now)
		if err != nil {
			return err
		}

		onHand := level.OnHand.Add(d.deltaOnHand)
		reserved := level.Reserved.Add(d.deltaReserved)
		if err := checkInvariants(d.productID, onHand, reserved); err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Model(&model.StockLevel{}).
			Where("id = ?", level.ID).
			Updates(map[string]any{
				"on_hand":    onHand,
				"reserved":   reserved,
				"updated_at": now,
			}).Error; err != nil {
			return fmt.Errorf("failed to update stock level of product %d: %w", d.productID, err)
		}
	}
	return nil
}

// lockLevelInTx returns the level row of (warehouse, product) locked for update, creating it first
// when missing. A concurrent creator wins the insert and this call simply reads its row.
func (s *LedgerService) lockLevelInTx(ctx context.Context, tx *gorm.DB, warehouseID, productID int64, now time.Time) (*model.StockLevel, error) {
	fresh := model.StockLevel{
		WarehouseID: warehouseID,
		ProductID:   productID,
		OnHand:      decimal.Zero,
		Reserved:    decimal.Zero,
		UpdatedAt:   now,
	}
	if err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "warehouse_id"}, {Name: "product_id"}},
		DoNothing: true,
	}).Create(&fresh).Error; err != nil {
		return nil, fmt.Errorf("failed to create stock level of product %d: %w", productID, err)
	}

	var level model.StockLevel
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("warehouse_id = ? AND product_id = ?", warehouseID, productID).
		First(&level).Error; err != nil {
		return nil, fmt.Errorf("failed to lock stock level of product %d: %w", productID, err)
	}
	return &level, nil
}

func checkInvariants(productID int64, onHand, reserved decimal.Decimal) error {
	if onHand.IsNegative() {
		return ErrInsufficientStock.Newf("insufficient on-hand stock for product %d", productID)
	}
	if reserved.IsNegative() {
		return ErrNegativeReservation.Newf("negative reservation not allowed for product %d", productID)
	}
	if reserved.GreaterThan(onHand) {
		return ErrOverReservation.Newf("reservation of %s exceeds on-hand %s for product %d", reserved, onHand, productID)
	}
	return nil
}

func sumByProduct(lines []LineRequest) []lineDelta {
	byProduct := make(map[int64]*lineDelta, len(lines))
	for _, l := range lines {
		d, ok := byProduct[l.ProductID]
		if !ok {
			d = &lineDelta{productID: l.ProductID, deltaOnHand: decimal.Zero, deltaReserved: decimal.Zero}
			byProduct[l.ProductID] = d
		}
		d.deltaOnHand = d.deltaOnHand.Add(l.DeltaOnHand)
		d.deltaReserved = d.deltaReserved.Add(l.DeltaReserved)
	}

	out := make([]lineDelta, 0, len(byProduct))
	for _, d := range byProduct {
		out = append(out, *d)
	}
	slices.SortFunc(out, func(a, b lineDelta) int {
		switch {
		case a.productID < b.productID:
			return -1
		case a.productID > b.productID:
			return 1
		}
		return 0
	})
	return out
}

func validatePostRequest(req PostMovementRequest) error {
	if strings.TrimSpace(req.MovementTypeCode) == "" {
		return ErrInvalidMovement.Newf("movement type code is required")
	}
	if req.WarehouseID <= 0 {
		return ErrInvalidMovement.Newf("warehouse id must be positive")
	}
	if req.ActorUserID == 0 {
		return ErrInvalidMovement.Newf("actor is required")
	}
	if len(req.Lines) == 0 {
		return ErrInvalidMovement.Newf("a movement needs at least one line")
	}
	for i, l := range req.Lines {
		if l.ProductID <= 0 {
			return ErrInvalidMovement.Newf("line %d: product id must be positive", i+1)
		}
		if l.DeltaOnHand.IsZero() && l.DeltaReserved.IsZero() {
			return ErrInvalidMovement.Newf("line %d: at least one delta must be non-zero", i+1)
		}
		if !fitsQuantityScale(l.DeltaOnHand) || !fitsQuantityScale(l.DeltaReserved) {
			return ErrInvalidMovement.Newf("line %d: quantities allow at most %d decimal places", i+1, QuantityScale)
		}
		if l.UnitCost != nil {
			if l.UnitCost.IsNegative() {
				return ErrInvalidMovement.Newf("line %d: unit cost cannot be negative", i+1)
			}
			if !fitsQuantityScale(*l.UnitCost) {
				return ErrInvalidMovement.Newf("line %d: unit cost allows at most %d decimal places", i+1, QuantityScale)
			}
		}
	}
	return nil
}

// QuantityScale is the number of decimal places stored for quantities and costs (numeric(18,4)).
const QuantityScale = 4

// fitsQuantityScale reports whether d is stored without rounding. Trailing zeros do not count.
func fitsQuantityScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(QuantityScale))
}

func newMovementNo(at time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("MV-%s-%X", at.Format("20060102"), id[:4])
}

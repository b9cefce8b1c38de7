package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/JonMonday/inv-sub000/internal/apperr"
	"github.com/JonMonday/inv-sub000/internal/audit"
	"github.com/JonMonday/inv-sub000/internal/database/dbtest"
	"github.com/JonMonday/inv-sub000/internal/idempotency"
	"github.com/JonMonday/inv-sub000/internal/stock/model"
	wfmodel "github.com/JonMonday/inv-sub000/internal/workflow/model"
)

// MockWorkflowStateReader is a mock implementation of WorkflowStateReader
type MockWorkflowStateReader struct {
	mock.Mock
}

func (m *MockWorkflowStateReader) CurrentStepTypeForRequestInTx(ctx context.Context, tx *gorm.DB, requestID int64) (wfmodel.StepType, error) {
	args := m.Called(ctx, tx, requestID)
	return args.Get(0).(wfmodel.StepType), args.Error(1)
}

type ledgerFixture struct {
	db       *gorm.DB
	ledger   *LedgerService
	queries  *QueryService
	workflow *MockWorkflowStateReader
}

const (
	warehouseID = int64(1)
	productA    = int64(100)
	productB    = int64(200)
)

func setupLedger(t *testing.T) *ledgerFixture {
	t.Helper()
	db := dbtest.OpenSQLite(t,
		&model.MovementType{}, &model.MovementStatus{}, &model.ReasonCode{},
		&model.StockLevel{}, &model.StockMovement{}, &model.StockMovementLine{},
		&idempotency.Record{}, &audit.Log{},
	)
	lookups := NewLookupService(db)
	require.NoError(t, lookups.SeedLookups(context.Background()))

	wf := new(MockWorkflowStateReader)
	return &ledgerFixture{
		db:       db,
		ledger:   NewLedgerService(db, lookups, idempotency.NewGuard(24*time.Hour), wf, audit.NewService()),
		queries:  NewQueryService(db),
		workflow: wf,
	}
}

func qty(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (f *ledgerFixture) post(t *testing.T, typ string, lines ...LineRequest) (*PostResult, error) {
	t.Helper()
	return f.ledger.PostMovement(context.Background(), PostMovementRequest{
		MovementTypeCode: typ,
		WarehouseID:      warehouseID,
		ActorUserID:      7,
		Lines:            lines,
	}, nil)
}

func (f *ledgerFixture) assertLevel(t *testing.T, productID int64, onHand, reserved string) {
	t.Helper()
	level, err := f.queries.GetStockLevel(context.Background(), warehouseID, productID)
	require.NoError(t, err)
	assert.Truef(t, level.OnHand.Equal(qty(onHand)), "onHand: want %s, got %s", onHand, level.OnHand)
	assert.Truef(t, level.Reserved.Equal(qty(reserved)), "reserved: want %s, got %s", reserved, level.Reserved)
}

func (f *ledgerFixture) countMovements(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.StockMovement{}).Count(&n).Error)
	return n
}

func TestPostMovement_ReceiptCreatesLevel(t *testing.T) {
	f := setupLedger(t)

	result, err := f.post(t, "RECEIPT", LineRequest{ProductID: productA, DeltaOnHand: qty("10")})
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Regexp(t, `^MV-\d{8}-[0-9A-F]{8}$`, result.MovementNo)

	f.assertLevel(t, productA, "10", "0")

	movement, err := f.queries.GetMovement(context.Background(), result.MovementID)
	require.NoError(t, err)
	assert.Equal(t, model.MovementTypeReceipt, movement.MovementType.Code)
	assert.Equal(t, model.MovementStatusPosted, movement.MovementStatus.Code)
	require.Len(t, movement.Lines, 1)
	assert.Equal(t, 1, movement.Lines[0].LineNo)
	assert.Nil(t, movement.ReversedMovementID)
}

func TestPostMovement_ReserveAtFulfillment(t *testing.T) {
	f := setupLedger(t)
	requestID := int64(55)
	f.workflow.On("CurrentStepTypeForRequestInTx", mock.Anything, mock.Anything, requestID).Return(wfmodel.StepTypeFulfillment, nil)

	_, err := f.post(t, "RECEIPT", LineRequest{ProductID: productA, DeltaOnHand: qty("10")})
	require.NoError(t, err)

	reserve := func(q string) (*PostResult, error) {
		return f.ledger.PostMovement(context.Background(), PostMovementRequest{
			MovementTypeCode: "RESERVE",
			WarehouseID:      warehouseID,
			RequestID:        &requestID,
			ActorUserID:      7,
			Lines:            []LineRequest{{ProductID: productA, DeltaReserved: qty(q)}},
		}, nil)
	}

	_, err = reserve("5")
	require.NoError(t, err)
	f.assertLevel(t, productA, "10", "5")
	before := f.countMovements(t)

	_, err = reserve("6")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOverReservation)
	assert.Equal(t, apperr.KindInvariantViolation, apperr.KindOf(err))
	f.assertLevel(t, productA, "10", "5")
	assert.Equal(t, before, f.countMovements(t))

	f.workflow.AssertExpectations(t)
}

func TestPostMovement_ReserveOutsideFulfillment(t *testing.T) {
	f := setupLedger(t)
	requestID := int64(56)
	f.workflow.On("CurrentStepTypeForRequestInTx", mock.Anything, mock.Anything, requestID).Return(wfmodel.StepTypeApproval, nil)

	_, err := f.post(t, "RECEIPT", LineRequest{ProductID: productA, DeltaOnHand: qty("10")})
	require.NoError(t, err)

	_, err = f.ledger.PostMovement(context.Background(), PostMovementRequest{
		MovementTypeCode: "RESERVE",
		WarehouseID:      warehouseID,
		RequestID:        &requestID,
		ActorUserID:      7,
		Lines:            []LineRequest{{ProductID: productA, DeltaReserved: qty("1")}},
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidWorkflowState)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	f.assertLevel(t, productA, "10", "0")
}

func TestPostMovement_ReserveWithoutWorkflow(t *testing.T) {
	f := setupLedger(t)
	requestID := int64(57)
	missing := apperr.New(apperr.KindNotFound, "NO_INSTANCE_FOR_REQUEST", "no active workflow instance for request")
	f.workflow.On("CurrentStepTypeForRequestInTx", mock.Anything, mock.Anything, requestID).Return(wfmodel.StepType(""), missing)

	_, err := f.ledger.PostMovement(context.Background(), PostMovementRequest{
		MovementTypeCode: "RESERVE",
		WarehouseID:      warehouseID,
		RequestID:        &requestID,
		ActorUserID:      7,
		Lines:            []LineRequest{{ProductID: productA, DeltaReserved: qty("1")}},
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidWorkflowState)
}

func TestPostMovement_IdempotentReplay(t *testing.T) {
	f := setupLedger(t)
	_, err := f.post(t, "RECEIPT", LineRequest{ProductID: productA, DeltaOnHand: qty("10")})
	require.NoError(t, err)

	req := PostMovementRequest{
		MovementTypeCode: "ISSUE",
		WarehouseID:      warehouseID,
		ActorUserID:      7,
		Lines:            []LineRequest{{ProductID: productA, DeltaOnHand: qty("-3")}},
	}
	idem := &IdempotencyOptions{RouteKey: "issue", ClientKey: "k1"}

	first, err := f.ledger.PostMovement(context.Background(), req, idem)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.ledger.PostMovement(context.Background(), req, idem)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.MovementID, second.MovementID)
	assert.Equal(t, first.MovementNo, second.MovementNo)

	f.assertLevel(t, productA, "7", "0")
	assert.Equal(t, int64(2), f.countMovements(t))

	var record idempotency.Record
	require.NoError(t, f.db.First(&record).Error)
	assert.Equal(t, idempotency.StatusCompleted, record.Status)
	require.NotNil(t, record.MovementID)
	assert.Equal(t, first.MovementID, *record.MovementID)
}

func TestPostMovement_FailureRollsBackIdempotencyRecord(t *testing.T) {
	f := setupLedger(t)
	idem := &IdempotencyOptions{RouteKey: "issue", ClientKey: "k2"}
	req := PostMovementRequest{
		MovementTypeCode: "ISSUE",
		WarehouseID:      warehouseID,
		ActorUserID:      7,
		Lines:            []LineRequest{{ProductID: productA, DeltaOnHand: qty("-1")}},
	}

	_, err := f.ledger.PostMovement(context.Background(), req, idem)
	require.ErrorIs(t, err, ErrInsufficientStock)

	var count int64
	require.NoError(t, f.db.Model(&idempotency.Record{}).Count(&count).Error)
	assert.Zero(t, count)

	_, err = f.post(t, "RECEIPT", LineRequest{ProductID: productA, DeltaOnHand: qty("1")})
	require.NoError(t, err)

	result, err := f.ledger.PostMovement(context.Background(), req, idem)
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	f.assertLevel(t, productA, "0", "0")
}

func TestPostMovement_MultiLineIsAtomic(t *testing.T) {
	f := setupLedger(t)
	_, err := f.post(t, "RECEIPT",
		LineRequest{ProductID: productA, DeltaOnHand: qty("5")},
		LineRequest{ProductID: productB, DeltaOnHand: qty("1")},
	)
	require.NoError(t, err)

	_, err = f.post(t, "ISSUE",
		LineRequest{ProductID: productA, DeltaOnHand: qty("-2")},
		LineRequest{ProductID: productB, DeltaOnHand: qty("-2")},
	)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	f.assertLevel(t, productA, "5", "0")
	f.assertLevel(t, productB, "1", "0")
	assert.Equal(t, int64(1), f.countMovements(t))

	var lines int64
	require.NoError(t, f.db.Model(&model.StockMovementLine{}).Count(&lines).Error)
	assert.Equal(t, int64(2), lines)
}

func TestPostMovement_RepeatedProductAccumulates(t *testing.T) {
	f := setupLedger(t)
	_, err := f.post(t, "RECEIPT",
		LineRequest{ProductID: productA, DeltaOnHand: qty("2.5")},
		LineRequest{ProductID: productA, DeltaOnHand: qty("1.5")},
	)
	require.NoError(t, err)
	f.assertLevel(t, productA, "4", "0")
}

func TestPostMovement_Invariants(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		line    LineRequest
		wantErr error
	}{
		{"issue beyond on hand", "ISSUE", LineRequest{ProductID: productA, DeltaOnHand: qty("-11")}, ErrInsufficientStock},
		{"release beyond reserved", "RELEASE", LineRequest{ProductID: productA, DeltaReserved: qty("-1")}, ErrNegativeReservation},
		{"issue below reserved", "ADJUSTMENT_OUT", LineRequest{ProductID: productA, DeltaOnHand: qty("-8")}, ErrOverReservation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupLedger(t)
			_, err := f.post(t, "RECEIPT", LineRequest{ProductID: productA, DeltaOnHand: qty("10")})
			require.NoError(t, err)
			if tt.wantErr == ErrOverReservation {
				_, err = f.post(t, "RESERVE", LineRequest{ProductID: productA, DeltaReserved: qty("3")})
				require.NoError(t, err)
			}

			_, err = f.post(t, tt.typ, tt.line)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPostMovement_UnknownCodes(t *testing.T) {
	f := setupLedger(t)

	_, err := f.post(t, "TELEPORT", LineRequest{ProductID: productA, DeltaOnHand: qty("1")})
	assert.ErrorIs(t, err, ErrUnknownCode)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.ledger.PostMovement(context.Background(), PostMovementRequest{
		MovementTypeCode: "ADJUSTMENT_IN",
		ReasonCode:       "NO_SUCH_REASON",
		WarehouseID:      warehouseID,
		ActorUserID:      7,
		Lines:            []LineRequest{{ProductID: productA, DeltaOnHand: qty("1")}},
	}, nil)
	assert.ErrorIs(t, err, ErrUnknownCode)

	result, err := f.ledger.PostMovement(context.Background(), PostMovementRequest{
		MovementTypeCode: "ADJUSTMENT_IN",
		ReasonCode:       "COUNT_CORRECTION",
		WarehouseID:      warehouseID,
		ActorUserID:      7,
		Lines:            []LineRequest{{ProductID: productA, DeltaOnHand: qty("1")}},
	}, nil)
	require.NoError(t, err)
	movement, err := f.queries.GetMovement(context.Background(), result.MovementID)
	require.NoError(t, err)
	require.NotNil(t, movement.ReasonCode)
	assert.Equal(t, "COUNT_CORRECTION", movement.ReasonCode.Code)
}

func TestPostMovement_Validation(t *testing.T) {
	f := setupLedger(t)
	negative := qty("-1")
	fineCost := qty("0.12345")

	tests := []struct {
		name string
		req  PostMovementRequest
	}{
		{"no type", PostMovementRequest{WarehouseID: 1, ActorUserID: 7, Lines: []LineRequest{{ProductID: 1, DeltaOnHand: qty("1")}}}},
		{"no warehouse", PostMovementRequest{MovementTypeCode: "RECEIPT", ActorUserID: 7, Lines: []LineRequest{{ProductID: 1, DeltaOnHand: qty("1")}}}},
		{"no actor", PostMovementRequest{MovementTypeCode: "RECEIPT", WarehouseID: 1, Lines: []LineRequest{{ProductID: 1, DeltaOnHand: qty("1")}}}},
		{"no lines", PostMovementRequest{MovementTypeCode: "RECEIPT", WarehouseID: 1, ActorUserID: 7}},
		{"zero line", PostMovementRequest{MovementTypeCode: "RECEIPT", WarehouseID: 1, ActorUserID: 7, Lines: []LineRequest{{ProductID: 1}}}},
		{"bad product", PostMovementRequest{MovementTypeCode: "RECEIPT", WarehouseID: 1, ActorUserID: 7, Lines: []LineRequest{{DeltaOnHand: qty("1")}}}},
		{"negative cost", PostMovementRequest{MovementTypeCode: "RECEIPT", WarehouseID: 1, ActorUserID: 7, Lines: []LineRequest{{ProductID: 1, DeltaOnHand: qty("1"), UnitCost: &negative}}}},
		{"Five Decimal On Hand", PostMovementRequest{MovementTypeCode: "RECEIPT", WarehouseID: 1, ActorUserID: 7, Lines: []LineRequest{{ProductID: 1, DeltaOnHand: qty("1.00001")}}}},
		{"Five Decimal Reserved", PostMovementRequest{MovementTypeCode: "RESERVE", WarehouseID: 1, ActorUserID: 7, Lines: []LineRequest{{ProductID: 1, DeltaReserved: qty("0.00005")}}}},
		{"Five Decimal Unit Cost", PostMovementRequest{MovementTypeCode: "RECEIPT", WarehouseID: 1, ActorUserID: 7, Lines: []LineRequest{{ProductID: 1, DeltaOnHand: qty("1"), UnitCost: &fineCost}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.PostMovement(context.Background(), tt.req, nil)
			assert.ErrorIs(t, err, ErrInvalidMovement)
			assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
		})
	}
	assert.Zero(t, f.countMovements(t))
}

func TestPostMovement_TrailingZerosFitScale(t *testing.T) {
	f := setupLedger(t)
	cost := qty("2.500000")

	_, err := f.post(t, "RECEIPT", LineRequest{ProductID: productA, DeltaOnHand: qty("1.250000"), UnitCost: &cost})
	require.NoError(t, err)
	f.assertLevel(t, productA, "1.25", "0")
}

func TestPostMovement_ConcurrentIssuesNeverOversell(t *testing.T) {
	f := setupLedger(t)
	_, err := f.post(t, "RECEIPT", LineRequest{ProductID: productA, DeltaOnHand: qty("5")})
	require.NoError(t, err)

	const workers = 10
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.post(t, "ISSUE", LineRequest{ProductID: productA, DeltaOnHand: qty("-1")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientStock):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, 5, rejected)
	f.assertLevel(t, productA, "0", "0")
}

func TestSeedLookups_IsIdempotent(t *testing.T) {
	f := setupLedger(t)
	require.NoError(t, NewLookupService(f.db).SeedLookups(context.Background()))

	var types, statuses int64
	require.NoError(t, f.db.Model(&model.MovementType{}).Count(&types).Error)
	require.NoError(t, f.db.Model(&model.MovementStatus{}).Count(&statuses).Error)
	assert.Equal(t, int64(11), types)
	assert.Equal(t, int64(3), statuses)
}

func TestQueries(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()

	level, err := f.queries.GetStockLevel(ctx, warehouseID, 999)
	require.NoError(t, err)
	assert.True(t, level.OnHand.IsZero())
	assert.Zero(t, level.ID)

	_, err = f.post(t, "RECEIPT",
		LineRequest{ProductID: productB, DeltaOnHand: qty("3")},
		LineRequest{ProductID: productA, DeltaOnHand: qty("4")},
	)
	require.NoError(t, err)

	list, err := f.queries.ListStockLevels(ctx, warehouseID)
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	assert.Equal(t, productA, list.Items[0].ProductID)
	assert.Equal(t, productB, list.Items[1].ProductID)

	_, err = f.queries.GetMovement(ctx, 12345)
	assert.ErrorIs(t, err, ErrMovementNotFound)
}

package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JonMonday/inv-sub000/internal/stock/model"
)

var defaultMovementTypes = []model.MovementType{
	{Code: model.MovementTypeReceipt, Name: "Goods receipt", IsActive: true},
	{Code: model.MovementTypeIssue, Name: "Goods issue", IsActive: true},
	{Code: model.MovementTypeReserve, Name: "Reservation", IsActive: true},
	{Code: model.MovementTypeRelease, Name: "Reservation release", IsActive: true},
	{Code: model.MovementTypeConsumeReserve, Name: "Issue against reservation", IsActive: true},
	{Code: model.MovementTypeTransferIn, Name: "Transfer in", IsActive: true},
	{Code: model.MovementTypeTransferOut, Name: "Transfer out", IsActive: true},
	{Code: model.MovementTypeAdjustmentIn, Name: "Positive adjustment", IsActive: true},
	{Code: model.MovementTypeAdjustmentOut, Name: "Negative adjustment", IsActive: true},
	{Code: model.MovementTypeReturnIn, Name: "Return from requester", IsActive: true},
	{Code: model.MovementTypeReturnOut, Name: "Return to supplier", IsActive: true},
}

var defaultMovementStatuses = []model.MovementStatus{
	{Code: model.MovementStatusDraft, Name: "Draft"},
	{Code: model.MovementStatusPosted, Name: "Posted"},
	{Code: model.MovementStatusReversed, Name: "Reversed"},
}

var defaultReasonCodes = []model.ReasonCode{
	{Code: "COUNT_CORRECTION", Name: "Stock count correction", IsActive: true},
	{Code: "DAMAGED", Name: "Damaged goods", IsActive: true},
	{Code: "EXPIRED", Name: "Expired goods", IsActive: true},
	{Code: "LOST", Name: "Lost or stolen", IsActive: true},
	{Code: "RETURNED", Name: "Returned by requester", IsActive: true},
	{Code: "OTHER", Name: "Other", IsActive: true},
}

// LookupService resolves and seeds the stock lookup vocabularies.
type LookupService struct {
	db *gorm.DB
}

func NewLookupService(db *gorm.DB) *LookupService {
	return &LookupService{db: db}
}

// SeedLookups inserts the default movement types, statuses and reason codes. Existing codes are kept.
func (s *LookupService) SeedLookups(ctx context.Context) error {
	onCode := clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		types := append([]model.MovementType(nil), defaultMovementTypes...)
		if err := tx.Clauses(onCode).Create(&types).Error; err != nil {
			return fmt.Errorf("failed to seed movement types: %w", err)
		}
		statuses := append([]model.MovementStatus(nil), defaultMovementStatuses...)
		if err := tx.Clauses(onCode).Create(&statuses).Error; err != nil {
			return fmt.Errorf("failed to seed movement statuses: %w", err)
		}
		reasons := append([]model.ReasonCode(nil), defaultReasonCodes...)
		if err := tx.Clauses(onCode).Create(&reasons).Error; err != nil {
			return fmt.Errorf("failed to seed reason codes: %w", err)
		}
		return nil
	})
}

// MovementTypeByCodeInTx resolves an active movement type.
func (s *LookupService) MovementTypeByCodeInTx(ctx context.Context, tx *gorm.DB, code string) (*model.MovementType, error) {
	var mt model.MovementType
	err := tx.WithContext(ctx).Where("code = ? AND is_active = ?", code, true).First(&mt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownCode.Newf("movement type code %q not found", code)
		}
		return nil, fmt.Errorf("failed to look up movement type %q: %w", code, err)
	}
	return &mt, nil
}

// MovementStatusByCodeInTx resolves a movement status.
func (s *LookupService) MovementStatusByCodeInTx(ctx context.Context, tx *gorm.DB, code model.MovementStatusCode) (*model.MovementStatus, error) {
	var ms model.MovementStatus
	err := tx.WithContext(ctx).Where("code = ?", code).First(&ms).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownCode.Newf("movement status code %q not found", code)
		}
		return nil, fmt.Errorf("failed to look up movement status %q: %w", code, err)
	}
	return &ms, nil
}

// ReasonCodeByCodeInTx resolves an active reason code.
func (s *LookupService) ReasonCodeByCodeInTx(ctx context.Context, tx *gorm.DB, code string) (*model.ReasonCode, error) {
	var rc model.ReasonCode
	err := tx.WithContext(ctx).Where("code = ? AND is_active = ?", code, true).First(&rc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownCode.Newf("reason code %q not found", code)
		}
		return nil, fmt.Errorf("failed to look up reason code %q: %w", code, err)
	}
	return &rc, nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/JonMonday/inv-sub000/internal/stock/model"
)

// QueryService reads stock levels and posted movements.
type QueryService struct {
	db *gorm.DB
}

func NewQueryService(db *gorm.DB) *QueryService {
	return &QueryService{db: db}
}

// GetStockLevel returns the level of one product. A pair that never moved reports zero quantities.
func (s *QueryService) GetStockLevel(ctx context.Context, warehouseID, productID int64) (*model.StockLevel, error) {
	var level model.StockLevel
	err := s.db.WithContext(ctx).
		Where("warehouse_id = ? AND product_id = ?", warehouseID, productID).
		First(&level).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.StockLevel{
				WarehouseID: warehouseID,
				ProductID:   productID,
				OnHand:      decimal.Zero,
				Reserved:    decimal.Zero,
			}, nil
		}
		return nil, fmt.Errorf("failed to retrieve stock level: %w", err)
	}
	return &level, nil
}

// ListStockLevels returns every level of a warehouse ordered by product.
func (s *QueryService) ListStockLevels(ctx context.Context, warehouseID int64) (*model.StockLevelListDTO, error) {
	var levels []model.StockLevel
	err := s.db.WithContext(ctx).
		Where("warehouse_id = ?", warehouseID).
		Order("product_id").
		Find(&levels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve stock levels: %w", err)
	}
	return &model.StockLevelListDTO{WarehouseID: warehouseID, Items: levels}, nil
}

// GetMovement returns a movement with its lookups and lines.
func (s *QueryService) GetMovement(ctx context.Context, movementID int64) (*model.StockMovement, error) {
	var movement model.StockMovement
	err := s.db.WithContext(ctx).
		Preload("MovementType").
		Preload("MovementStatus").
		Preload("ReasonCode").
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no") }).
		First(&movement, "id = ?", movementID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMovementNotFound.Newf("stock movement %d not found", movementID)
		}
		return nil, fmt.Errorf("failed to retrieve stock movement: %w", err)
	}
	return &movement, nil
}

// OutstandingReservationsInTx nets the reserved deltas of every movement posted for a request and
// returns the positive balances per warehouse and product.
func (s *QueryService) OutstandingReservationsInTx(ctx context.Context, tx *gorm.DB, requestID int64) ([]model.ReservationBalanceDTO, error) {
	if tx == nil {
		tx = s.db
	}

	var sums []model.ReservationBalanceDTO
	err := tx.WithContext(ctx).
		Table("stock_movement_lines AS l").
		Select("m.warehouse_id AS warehouse_id, l.product_id AS product_id, SUM(l.delta_reserved) AS reserved").
		Joins("JOIN stock_movements m ON m.id = l.movement_id").
		Where("m.request_id = ?", requestID).
		Group("m.warehouse_id, l.product_id").
		Order("m.warehouse_id, l.product_id").
		Scan(&sums).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum reservations of request %d: %w", requestID, err)
	}

	balances := make([]model.ReservationBalanceDTO, 0, len(sums))
	for _, b := range sums {
		if b.Reserved.IsPositive() {
			balances = append(balances, b)
		}
	}
	return balances, nil
}

// ListReservations returns the open reservations of a request.
func (s *QueryService) ListReservations(ctx context.Context, requestID int64) (*model.ReservationListDTO, error) {
	items, err := s.OutstandingReservationsInTx(ctx, nil, requestID)
	if err != nil {
		return nil, err
	}
	return &model.ReservationListDTO{RequestID: requestID, Items: items}, nil
}

package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JonMonday/inv-sub000/internal/apperr"
)

var (
	ErrConcurrentDuplicate = apperr.New(apperr.KindConcurrentConflict, "IDEMPOTENCY_IN_PROGRESS", "a request with this idempotency key is still being processed")
	ErrInvalidScope        = apperr.New(apperr.KindInvalidArgument, "INVALID_IDEMPOTENCY_KEY", "idempotency key, route and actor are required")
	ErrHandleNotPending    = apperr.New(apperr.KindInvalidState, "IDEMPOTENCY_NOT_PENDING", "idempotency record is not being processed")
)

// Scope identifies a request for deduplication.
type Scope struct {
	ActorUserID int64
	RouteKey    string
	ClientKey   string
}

func (s Scope) validate() error {
	if s.ActorUserID == 0 || s.RouteKey == "" || s.ClientKey == "" {
		return ErrInvalidScope
	}
	if len(s.RouteKey) > 200 || len(s.ClientKey) > 200 {
		return ErrInvalidScope.Newf("idempotency key and route must not exceed 200 characters")
	}
	return nil
}

// Handle is the right to complete a freshly inserted PROCESSING record.
type Handle struct {
	recordID int64
	scope    Scope
}

// Result is either a Begin (Handle set) or a Reuse of a completed record.
type Result struct {
	Handle         *Handle
	MovementID     *int64
	ResponseStatus int
	ResponseBody   json.RawMessage
}

// Reused reports whether the caller must return the cached result instead of executing.
func (r *Result) Reused() bool {
	return r.Handle == nil
}

// Guard deduplicates mutating requests by (actor, route, client key).
type Guard struct {
	ttl time.Duration
	now func() time.Time
}

func NewGuard(ttl time.Duration) *Guard {
	return &Guard{
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CheckOrBeginInTx inserts a PROCESSING record for scope inside tx. When a record already exists the
// insert is skipped and the existing record decides the outcome: COMPLETED is reused, PROCESSING
// fails with ErrConcurrentDuplicate. An expired record is replaced.
func (g *Guard) CheckOrBeginInTx(ctx context.Context, tx *gorm.DB, scope Scope) (*Result, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		now := g.now()
		record := Record{
			ActorUserID: scope.ActorUserID,
			RouteKey:    scope.RouteKey,
			ClientKey:   scope.ClientKey,
			Status:      StatusProcessing,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(g.ttl),
		}
		res := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_user_id"}, {Name: "route_key"}, {Name: "client_key"}},
			DoNothing: true,
		}).Create(&record)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to insert idempotency record: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return &Result{Handle: &Handle{recordID: record.ID, scope: scope}}, nil
		}

		existing, err := g.findInTx(ctx, tx, scope)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			// The winner rolled back or the record was purged between insert and read.
			continue
		}
		if existing.ExpiresAt.Before(now) {
			if err := tx.WithContext(ctx).Delete(&Record{}, existing.ID).Error; err != nil {
				return nil, fmt.Errorf("failed to replace expired idempotency record: %w", err)
			}
			continue
		}

		switch existing.Status {
		case StatusCompleted:
			slog.DebugContext(ctx, "idempotent replay",
				"actor_user_id", scope.ActorUserID,
				"route_key", scope.RouteKey,
				"movement_id", existing.MovementID,
			)
			result := &Result{MovementID: existing.MovementID, ResponseBody: existing.ResponseBody}
			if existing.ResponseStatus != nil {
				result.ResponseStatus = *existing.ResponseStatus
			}
			return result, nil
		default:
			return nil, ErrConcurrentDuplicate.Newf("request %q on %s is still being processed", scope.ClientKey, scope.RouteKey)
		}
	}
	return nil, ErrConcurrentDuplicate.Newf("could not reserve idempotency key %q on %s", scope.ClientKey, scope.RouteKey)
}

func (g *Guard) findInTx(ctx context.Context, tx *gorm.DB, scope Scope) (*Record, error) {
	var existing Record
	err := tx.WithContext(ctx).
		Where("actor_user_id = ? AND route_key = ? AND client_key = ?", scope.ActorUserID, scope.RouteKey, scope.ClientKey).
		First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read idempotency record: %w", err)
	}
	return &existing, nil
}

// CompleteInTx stores the outcome of a Begin and flips the record to COMPLETED.
func (g *Guard) CompleteInTx(ctx context.Context, tx *gorm.DB, handle *Handle, movementID int64, responseStatus int, response any) error {
	if handle == nil {
		return ErrHandleNotPending.Newf("missing idempotency handle")
	}

	body, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode idempotent response: %w", err)
	}

	completed := Record{
		Status:         StatusCompleted,
		MovementID:     &movementID,
		ResponseStatus: &responseStatus,
		ResponseBody:   body,
		UpdatedAt:      g.now(),
	}
	res := tx.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND status = ?", handle.recordID, StatusProcessing).
		Select("status", "movement_id", "response_status", "response_body", "updated_at").
		Updates(&completed)
	if res.Error != nil {
		return fmt.Errorf("failed to complete idempotency record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrHandleNotPending.Newf("idempotency record %d is not being processed", handle.recordID)
	}
	return nil
}

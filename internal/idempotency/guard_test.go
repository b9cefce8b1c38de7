package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/JonMonday/inv-sub000/internal/apperr"
	"github.com/JonMonday/inv-sub000/internal/database/dbtest"
)

func newTestGuard(t *testing.T) (*gorm.DB, *Guard) {
	t.Helper()
	db := dbtest.OpenSQLite(t, &Record{})
	return db, NewGuard(24 * time.Hour)
}

func TestCheckOrBegin_BeginThenReuse(t *testing.T) {
	db, guard := newTestGuard(t)
	ctx := context.Background()
	scope := Scope{ActorUserID: 7, RouteKey: "issue", ClientKey: "k1"}

	err := db.Transaction(func(tx *gorm.DB) error {
		result, err := guard.CheckOrBeginInTx(ctx, tx, scope)
		require.NoError(t, err)
		require.False(t, result.Reused())
		return guard.CompleteInTx(ctx, tx, result.Handle, 42, 200, map[string]any{"movementId": 42})
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		result, err := guard.CheckOrBeginInTx(ctx, tx, scope)
		require.NoError(t, err)
		require.True(t, result.Reused())
		require.NotNil(t, result.MovementID)
		assert.Equal(t, int64(42), *result.MovementID)
		assert.Equal(t, 200, result.ResponseStatus)

		var body map[string]int64
		require.NoError(t, json.Unmarshal(result.ResponseBody, &body))
		assert.Equal(t, int64(42), body["movementId"])
		return nil
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&Record{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCheckOrBegin_ProcessingIsConflict(t *testing.T) {
	db, guard := newTestGuard(t)
	ctx := context.Background()
	scope := Scope{ActorUserID: 7, RouteKey: "issue", ClientKey: "k1"}

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := guard.CheckOrBeginInTx(ctx, tx, scope)
		return err
	}))

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := guard.CheckOrBeginInTx(ctx, tx, scope)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConcurrentDuplicate))
	assert.Equal(t, apperr.KindConcurrentConflict, apperr.KindOf(err))
}

func TestCheckOrBegin_ScopeIsPerActorAndRoute(t *testing.T) {
	db, guard := newTestGuard(t)
	ctx := context.Background()

	scopes := []Scope{
		{ActorUserID: 7, RouteKey: "issue", ClientKey: "k1"},
		{ActorUserID: 8, RouteKey: "issue", ClientKey: "k1"},
		{ActorUserID: 7, RouteKey: "receipt", ClientKey: "k1"},
	}
	for _, scope := range scopes {
		err := db.Transaction(func(tx *gorm.DB) error {
			result, err := guard.CheckOrBeginInTx(ctx, tx, scope)
			if err != nil {
				return err
			}
			assert.False(t, result.Reused())
			return nil
		})
		require.NoError(t, err)
	}
}

func TestCheckOrBegin_RollbackReleasesKey(t *testing.T) {
	db, guard := newTestGuard(t)
	ctx := context.Background()
	scope := Scope{ActorUserID: 7, RouteKey: "issue", ClientKey: "k1"}

	_ = db.Transaction(func(tx *gorm.DB) error {
		_, err := guard.CheckOrBeginInTx(ctx, tx, scope)
		require.NoError(t, err)
		return errors.New("posting failed")
	})

	err := db.Transaction(func(tx *gorm.DB) error {
		result, err := guard.CheckOrBeginInTx(ctx, tx, scope)
		if err != nil {
			return err
		}
		assert.False(t, result.Reused())
		return nil
	})
	require.NoError(t, err)
}

func TestCheckOrBegin_ExpiredRecordIsReplaced(t *testing.T) {
	db, guard := newTestGuard(t)
	ctx := context.Background()
	scope := Scope{ActorUserID: 7, RouteKey: "issue", ClientKey: "k1"}

	past := time.Now().UTC().Add(-48 * time.Hour)
	guard.now = func() time.Time { return past }
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := guard.CheckOrBeginInTx(ctx, tx, scope)
		return err
	}))

	guard.now = func() time.Time { return time.Now().UTC() }
	err := db.Transaction(func(tx *gorm.DB) error {
		result, err := guard.CheckOrBeginInTx(ctx, tx, scope)
		if err != nil {
			return err
		}
		assert.False(t, result.Reused())
		return nil
	})
	require.NoError(t, err)
}

func TestCheckOrBegin_InvalidScope(t *testing.T) {
	db, guard := newTestGuard(t)

	_, err := guard.CheckOrBeginInTx(context.Background(), db, Scope{ActorUserID: 7, RouteKey: "issue"})
	assert.ErrorIs(t, err, ErrInvalidScope)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestCompleteInTx_OnlyOnce(t *testing.T) {
	db, guard := newTestGuard(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		result, err := guard.CheckOrBeginInTx(ctx, tx, Scope{ActorUserID: 1, RouteKey: "r", ClientKey: "k"})
		require.NoError(t, err)
		require.NoError(t, guard.CompleteInTx(ctx, tx, result.Handle, 1, 200, nil))
		return guard.CompleteInTx(ctx, tx, result.Handle, 2, 200, nil)
	})
	assert.ErrorIs(t, err, ErrHandleNotPending)
}

func TestPurgeExpired(t *testing.T) {
	db := dbtest.OpenSQLite(t, &Record{})
	now := time.Now().UTC()

	require.NoError(t, db.Create(&[]Record{
		{ActorUserID: 1, RouteKey: "r", ClientKey: "old", Status: StatusCompleted, CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(-time.Minute)},
		{ActorUserID: 1, RouteKey: "r", ClientKey: "new", Status: StatusCompleted, CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(time.Hour)},
	}).Error)

	purger := NewPurger(db)
	n, err := purger.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var keys []string
	require.NoError(t, db.Model(&Record{}).Pluck("client_key", &keys).Error)
	assert.Equal(t, []string{"new"}, keys)
}

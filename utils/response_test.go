package utils

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/JonMonday/inv-sub000/internal/apperr"
)

func TestGetPaginationParams(t *testing.T) {
	intPtr := func(v int) *int { return &v }

	tests := []struct {
		name       string
		offset     *int
		limit      *int
		wantOffset int
		wantLimit  int
	}{
		{"Defaults", nil, nil, 0, DefaultPageSize},
		{"Explicit", intPtr(40), intPtr(10), 40, 10},
		{"Negative Offset", intPtr(-1), nil, 0, DefaultPageSize},
		{"Zero Limit", nil, intPtr(0), 0, DefaultPageSize},
		{"Capped Limit", nil, intPtr(1000), 0, MaxPageSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, limit := GetPaginationParams(tt.offset, tt.limit)
			assert.Equal(t, tt.wantOffset, offset)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	notFound := apperr.New(apperr.KindNotFound, "THING_NOT_FOUND", "thing not found")

	t.Run("Classified", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/things/1", nil)

		RespondError(c, notFound.Newf("thing 1 not found"))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"code":"THING_NOT_FOUND","message":"thing 1 not found"}`, w.Body.String())
		assert.True(t, c.IsAborted())
	})

	t.Run("Internal Details Hidden", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/things/1", nil)

		RespondError(c, errors.New("pq: password authentication failed"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "password")
		assert.Len(t, c.Errors, 1)
	})
}

func TestQueryInt(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?offset=5&limit=x&warehouseId=9000000000", nil)

	offset, err := QueryInt(c, "offset")
	assert.NoError(t, err)
	assert.Equal(t, 5, *offset)

	_, err = QueryInt(c, "limit")
	assert.Error(t, err)

	missing, err := QueryInt(c, "page")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	warehouse, err := QueryInt64(c, "warehouseId")
	assert.NoError(t, err)
	assert.Equal(t, int64(9000000000), *warehouse)
}

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSample = New(KindConcurrentConflict, "SAMPLE_CONFLICT", "sample conflict")

func TestError_IsMatchesByCode(t *testing.T) {
	detailed := errSample.Newf("sample conflict on %s", "row 1")
	wrapped := fmt.Errorf("failed to do work: %w", detailed)

	assert.True(t, errors.Is(wrapped, errSample))
	assert.Equal(t, "sample conflict on row 1", detailed.Error())
	assert.False(t, errors.Is(wrapped, New(KindConcurrentConflict, "OTHER", "other")))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindConcurrentConflict, KindOf(fmt.Errorf("wrap: %w", errSample)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "SAMPLE_CONFLICT", CodeOf(errSample))
	assert.Equal(t, "INTERNAL_ERROR", CodeOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindInvalidArgument, http.StatusBadRequest},
		{KindInvalidState, http.StatusUnprocessableEntity},
		{KindInvariantViolation, http.StatusUnprocessableEntity},
		{KindUnauthorized, http.StatusForbidden},
		{KindConcurrentConflict, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(New(tt.kind, "X", "x")))
		})
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

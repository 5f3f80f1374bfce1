package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("place order: %w", NewValidationError("items required",
		ValidationDetail{Field: "items", Message: "at least one item"}))

	assert.True(t, errors.Is(err, ErrValidation))

	ve, ok := IsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "items required", ve.Message)
	assert.Len(t, ve.Details, 1)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		nil: http.StatusOK,
		fmt.Errorf("x: %w", ErrValidation): http.StatusBadRequest,
		NewValidationError("bad"):           http.StatusBadRequest,
		fmt.Errorf("x: %w", ErrForbidden):  http.StatusForbidden,
		fmt.Errorf("x: %w", ErrNotFound):   http.StatusNotFound,
		fmt.Errorf("x: %w", ErrConflict):   http.StatusConflict,
		fmt.Errorf("x: %w", ErrExpired):    http.StatusGone,
		errors.New("boom"):                 http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), "%v", err)
	}
}

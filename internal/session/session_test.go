package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/delivery-dispatch/internal/apperrors"
	"github.com/example/delivery-dispatch/internal/models"
)

func TestRequire(t *testing.T) {
	a := Actor{ID: "c1", Role: models.RoleCustomer}
	assert.NoError(t, a.Require(models.RoleCustomer))
	assert.True(t, errors.Is(a.Require(models.RoleDriver), apperrors.ErrForbidden))
	assert.True(t, errors.Is(Actor{Role: models.RoleDriver}.Require(models.RoleDriver), apperrors.ErrForbidden))
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithActor(context.Background(), Actor{ID: "d1", Role: models.RoleDriver})
	a, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "d1", a.ID)
}

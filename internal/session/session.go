// Package session carries the acting account through a request. Services
// receive the Actor as an explicit argument; the context helpers exist only
// for the HTTP layer to hand it from middleware to handlers.
package session

import (
	"context"
	"fmt"

	"github.com/example/delivery-dispatch/internal/apperrors"
	"github.com/example/delivery-dispatch/internal/models"
)

type Actor struct {
	ID   string
	Role models.Role
}

// Require fails with ErrForbidden unless the actor has the given role.
func (a Actor) Require(role models.Role) error {
	if a.ID == "" {
		return fmt.Errorf("missing actor: %w", apperrors.ErrForbidden)
	}
	if a.Role != role {
		return fmt.Errorf("%s action not allowed for %s: %w", role, a.Role, apperrors.ErrForbidden)
	}
	return nil
}

type contextKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}

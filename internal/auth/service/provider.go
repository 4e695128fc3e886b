package service

import (
	"context"

	"github.com/aussiebroadwan/prayerwall/internal/auth/domain"
)

// StateSource publishes the identity provider's own sign-in state changes.
// A nil identity means signed out.
type StateSource interface {
	OnStateChange(fn func(*domain.Identity)) (unsubscribe func())
}

// IdentityProvider is the external identity service the gateway fronts.
// Errors should be *domain.ProviderError so they can be classified.
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (domain.Identity, error)
	SignUpWithPassword(ctx context.Context, email, password string) (domain.Identity, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
	StateSource
}

// Package provider adapts the authsdk client to the gateway's IdentityProvider.
package provider

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/prayerwall/internal/auth/domain"
	"github.com/aussiebroadwan/prayerwall/internal/auth/service"
	"github.com/aussiebroadwan/prayerwall/pkg/authsdk"
)

var _ service.IdentityProvider = (*Provider)(nil)

type Provider struct {
	Client *authsdk.Client
}

func New(client *authsdk.Client) *Provider {
	return &Provider{Client: client}
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (domain.Identity, error) {
	user, err := p.Client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return domain.Identity{}, mapError(err)
	}
	return toIdentity(user), nil
}

func (p *Provider) SignUpWithPassword(ctx context.Context, email, password string) (domain.Identity, error) {
	user, err := p.Client.SignUp(ctx, email, password)
	if err != nil {
		return domain.Identity{}, mapError(err)
	}
	return toIdentity(user), nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	return mapError(p.Client.SignOut(ctx))
}

func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	return mapError(p.Client.SendPasswordResetEmail(ctx, email))
}

func (p *Provider) OnStateChange(fn func(*domain.Identity)) func() {
	return p.Client.OnStateChange(func(u *authsdk.User) {
		if u == nil {
			fn(nil)
			return
		}
		id := toIdentity(u)
		fn(&id)
	})
}

// RefreshIfNeeded lets housekeeping keep the provider token warm.
func (p *Provider) RefreshIfNeeded(ctx context.Context) error {
	return mapError(p.Client.RefreshIfNeeded(ctx))
}

func toIdentity(u *authsdk.User) domain.Identity {
	return domain.Identity{
		SubjectID:   u.UID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
	}
}

// mapError turns SDK errors into *domain.ProviderError. Other errors (a
// cancelled context, say) pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *authsdk.Error
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{Code: apiErr.Code, Message: apiErr.Message}
	}
	return err
}

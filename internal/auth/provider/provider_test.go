package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/prayerwall/internal/auth/domain"
	"github.com/aussiebroadwan/prayerwall/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(authsdk.NewClient("k").WithEndpoints(srv.URL, srv.URL))
}

func TestProvider_SignIn(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"localId":     "uid-1",
			"email":       "a@x.com",
			"displayName": "Alice",
			"expiresIn":   "3600",
		})
	})

	var states []*domain.Identity
	unsubscribe := p.OnStateChange(func(id *domain.Identity) { states = append(states, id) })
	defer unsubscribe()

	id, err := p.SignInWithPassword(context.Background(), "a@x.com", "pw")
	require.NoError(t, err)
	require.Equal(t, domain.Identity{SubjectID: "uid-1", Email: "a@x.com", DisplayName: "Alice"}, id)

	require.NoError(t, p.SignOut(context.Background()))
	require.Len(t, states, 3)
	require.Nil(t, states[0])
	require.Equal(t, "uid-1", states[1].SubjectID)
	require.Nil(t, states[2])
}

func TestProvider_ErrorsAreClassifiable(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 400, "message": "EMAIL_EXISTS"},
		})
	})

	_, err := p.SignUpWithPassword(context.Background(), "a@x.com", "pw123456")

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, domain.CodeEmailAlreadyInUse, pe.Code)
	require.Equal(t, domain.KindConflict, domain.ClassifyProviderError(err))
}

func TestMapError(t *testing.T) {
	t.Parallel()

	require.NoError(t, mapError(nil))

	plain := errors.New("plain")
	require.Same(t, plain, mapError(plain))

	err := mapError(&authsdk.Error{Code: authsdk.CodeNetworkRequestFailed, Message: "dial tcp"})
	require.Equal(t, domain.KindOffline, domain.ClassifyProviderError(err))
}

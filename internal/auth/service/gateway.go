package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aussiebroadwan/prayerwall/internal/auth/domain"
	"github.com/aussiebroadwan/prayerwall/pkg/cryptox"
	"github.com/aussiebroadwan/prayerwall/pkg/slogx"
)

// SignInResult is a successful sign in. FromCache is set when the identity
// came from the session cache rather than the provider; Offline additionally
// marks that the provider was not consulted at all.
type SignInResult struct {
	Identity  domain.Identity
	FromCache bool
	Offline   bool

	// Revalidation tracks the background provider check started on a fresh
	// cache hit. Nil when none was started.
	Revalidation *Revalidation
}

// Revalidation is the handle of a background provider sign in.
type Revalidation struct {
	done chan struct{}
	err  error
}

// Done is closed once the revalidation has finished and the cache has been
// updated on success. A success that finishes after a SignOut is discarded.
func (r *Revalidation) Done() <-chan struct{} { return r.done }

// Await blocks until the revalidation finishes or ctx is done. It returns the
// revalidation's *domain.Failure, nil on success, or ctx.Err().
func (r *Revalidation) Await(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Gateway fronts the identity provider with the session cache, connectivity
// checks and resource-exhaustion retries. All failures it returns are
// *domain.Failure.
type Gateway struct {
	provider IdentityProvider
	cache    *SessionCache
	monitor  ConnectivityMonitor
	retry    *RetryCoordinator
	logger   *slog.Logger
	metrics  *Metrics

	// verifier enables the cached credential check when non-nil.
	verifier *cryptox.Argon2Params

	// signOuts counts SignOut calls. writeMu orders a revalidation's cache
	// write against SignOut so a discarded session is never written back.
	signOuts atomic.Uint64
	writeMu  sync.Mutex

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type GatewayOption func(*Gateway)

func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

func WithGatewayMetrics(m *Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithCredentialCheck stores an argon2id hash of the password with each cached
// session and requires the same password before a cached session is served.
// Without it a fresh cached session is returned for its email regardless of
// the password given, which is only safe when the cache belongs to a single
// user.
func WithCredentialCheck(p cryptox.Argon2Params) GatewayOption {
	return func(g *Gateway) { g.verifier = &p }
}

func NewGateway(
	provider IdentityProvider,
	cache *SessionCache,
	monitor ConnectivityMonitor,
	retry *RetryCoordinator,
	opts ...GatewayOption,
) *Gateway {
	g := &Gateway{
		provider: provider,
		cache:    cache,
		monitor:  monitor,
		retry:    retry,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.retry == nil {
		g.retry = NewRetryCoordinator(WithRetryLogger(g.logger), WithRetryMetrics(g.metrics))
	}
	if g.monitor == nil {
		g.monitor = NewConnectivityMonitor(nil)
	}
	g.logger = slogx.OrDefault(g.logger)
	return g
}

func (g *Gateway) log(ctx context.Context) *slog.Logger {
	return slogx.FromContextOr(ctx, g.logger)
}

func validateCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return &domain.Failure{Kind: domain.KindInvalidInput, Code: domain.CodeMissingEmail, Message: "email is required"}
	}
	if password == "" {
		return &domain.Failure{Kind: domain.KindInvalidInput, Code: domain.CodeMissingPassword, Message: "password is required"}
	}
	return nil
}

// SignIn authenticates email/password.
//
// Offline, only a fresh cached session for email is accepted. Online, a fresh
// cached session is returned immediately while the provider is asked again in
// the background. Otherwise the provider is called with retries, and if it is
// still throttling the cache is consulted one more time.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	if err := validateCredentials(email, password); err != nil {
		return SignInResult{}, err
	}
	l := g.log(ctx)

	if !g.monitor.IsOnline() {
		if cached, ok := g.cached(ctx, email, password); ok {
			l.Info("offline sign in served from cache", "subject_id", cached.SubjectID)
			g.metrics.signIn("offline_cache")
			return SignInResult{Identity: cached.Identity(), FromCache: true, Offline: true}, nil
		}
		g.metrics.signIn("offline_failed")
		return SignInResult{}, domain.NewFailure(domain.KindOffline, domain.MsgNetworkUnavailable)
	}

	if cached, ok := g.cached(ctx, email, password); ok {
		l.Debug("sign in served from cache", "subject_id", cached.SubjectID)
		g.metrics.signIn("cache")
		return SignInResult{
			Identity:     cached.Identity(),
			FromCache:    true,
			Revalidation: g.revalidate(ctx, email, password),
		}, nil
	}

	id, err := Execute(ctx, g.retry, func(ctx context.Context) (domain.Identity, error) {
		return call(ctx, g, "sign_in", func(ctx context.Context) (domain.Identity, error) {
			return g.provider.SignInWithPassword(ctx, email, password)
		})
	})
	if err == nil {
		g.remember(ctx, email, password, id)
		g.metrics.signIn("provider")
		return SignInResult{Identity: id}, nil
	}

	if domain.KindOf(err) == domain.KindResourceExhausted {
		if cached, ok := g.cached(ctx, email, password); ok {
			l.Warn("provider exhausted, sign in served from cache", "subject_id", cached.SubjectID)
			g.metrics.signIn("exhausted_cache")
			return SignInResult{Identity: cached.Identity(), FromCache: true}, nil
		}
	}

	g.metrics.signIn("failed")
	return SignInResult{}, err
}

// SignUp creates an account with the same retry treatment as SignIn. The
// cache is not consulted but is populated on success.
func (g *Gateway) SignUp(ctx context.Context, email, password string) (domain.Identity, error) {
	if err := validateCredentials(email, password); err != nil {
		return domain.Identity{}, err
	}

	id, err := Execute(ctx, g.retry, func(ctx context.Context) (domain.Identity, error) {
		return call(ctx, g, "sign_up", func(ctx context.Context) (domain.Identity, error) {
			return g.provider.SignUpWithPassword(ctx, email, password)
		})
	})
	if err != nil {
		return domain.Identity{}, err
	}

	g.remember(ctx, email, password, id)
	return id, nil
}

// SignOut clears the cache first so a failing provider cannot leave a usable
// session behind. Revalidations still in flight will not restore it.
// Provider failures are logged only.
func (g *Gateway) SignOut(ctx context.Context) {
	g.writeMu.Lock()
	g.signOuts.Add(1)
	g.cache.Clear(ctx)
	g.writeMu.Unlock()

	_, err := call(ctx, g, "sign_out", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.provider.SignOut(ctx)
	})
	if err != nil {
		g.log(ctx).Warn("provider sign out failed", "error", err)
	}
}

// SendPasswordReset makes a single provider attempt.
func (g *Gateway) SendPasswordReset(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return &domain.Failure{Kind: domain.KindInvalidInput, Code: domain.CodeMissingEmail, Message: "email is required"}
	}

	_, err := call(ctx, g, "password_reset", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.provider.SendPasswordReset(ctx, email)
	})
	if err != nil {
		return domain.FailureFromError(err)
	}
	return nil
}

// Close waits for in-flight revalidations. Cache hits after Close no longer
// start one.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.wg.Wait()
}

// call runs a single provider operation and records its outcome.
func call[T any](ctx context.Context, g *Gateway, op string, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = domain.ClassifyProviderError(err).String()
	}
	g.metrics.providerAttempt(op, outcome)
	return v, err
}

// revalidate signs in against the provider in the background on a context
// that outlives the caller's. Success refreshes the cache; failure is logged.
func (g *Gateway) revalidate(ctx context.Context, email, password string) *Revalidation {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.wg.Add(1)
	g.mu.Unlock()

	rv := &Revalidation{done: make(chan struct{})}
	bg := context.WithoutCancel(ctx)
	l := g.log(ctx)
	generation := g.signOuts.Load()

	go func() {
		defer g.wg.Done()
		defer close(rv.done)

		id, err := call(bg, g, "revalidate", func(ctx context.Context) (domain.Identity, error) {
			return g.provider.SignInWithPassword(ctx, email, password)
		})
		if err != nil {
			rv.err = domain.FailureFromError(err)
			l.Warn("background revalidation failed", "error", err)
			return
		}

		g.writeMu.Lock()
		defer g.writeMu.Unlock()
		if g.signOuts.Load() != generation {
			l.Info("signed out during revalidation, result discarded", "subject_id", id.SubjectID)
			return
		}
		g.remember(bg, email, password, id)
		l.Debug("background revalidation succeeded", "subject_id", id.SubjectID)
	}()

	return rv
}

// cached returns the fresh cached session for email. With the credential
// check enabled the password must also match the stored verifier.
func (g *Gateway) cached(ctx context.Context, email, password string) (domain.CachedSession, bool) {
	s, ok := g.cache.Get(ctx, email)
	if !ok || g.verifier == nil {
		return s, ok
	}

	if s.Verifier == "" {
		g.log(ctx).Info("cached session has no verifier, ignored")
		return domain.CachedSession{}, false
	}
	if err := cryptox.VerifyPassword(password, s.Verifier); err != nil {
		g.log(ctx).Info("cached session credentials do not match", "error", err)
		return domain.CachedSession{}, false
	}
	return s, true
}

// remember caches id and the email it was authenticated with. Failures are
// logged; the sign in itself already succeeded.
func (g *Gateway) remember(ctx context.Context, email, password string, id domain.Identity) {
	l := g.log(ctx)

	session := domain.NewCachedSession(id)
	if g.verifier != nil {
		hash, err := cryptox.HashPassword(password, *g.verifier)
		if err != nil {
			l.Warn("failed to hash password for cache, session not cached", "error", err)
			return
		}
		session.Verifier = hash
	}

	if err := g.cache.Put(ctx, session); err != nil {
		l.Warn("failed to cache session", "error", err)
	}
	if err := g.cache.MarkLastUsed(ctx, email); err != nil {
		l.Warn("failed to record last identity", "error", err)
	}
}

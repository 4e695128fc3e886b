package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aussiebroadwan/prayerwall/internal/auth/domain"
	"github.com/aussiebroadwan/prayerwall/internal/auth/store"
	"github.com/aussiebroadwan/prayerwall/internal/auth/store/drivers/memory"
)

// fakeProvider is a scriptable IdentityProvider.
type fakeProvider struct {
	mu sync.Mutex

	signIn    func(ctx context.Context, email, password string) (domain.Identity, error)
	signUp    func(ctx context.Context, email, password string) (domain.Identity, error)
	signOut   error
	resetErr  error
	calls     map[string]int
	listeners map[int]func(*domain.Identity)
	nextID    int
	current   *domain.Identity
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:     map[string]int{},
		listeners: map[int]func(*domain.Identity){},
	}
}

func (p *fakeProvider) count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *fakeProvider) record(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
}

func (p *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (domain.Identity, error) {
	p.record("sign_in")
	if p.signIn == nil {
		return domain.Identity{}, &domain.ProviderError{Code: domain.CodeUserNotFound}
	}
	return p.signIn(ctx, email, password)
}

func (p *fakeProvider) SignUpWithPassword(ctx context.Context, email, password string) (domain.Identity, error) {
	p.record("sign_up")
	if p.signUp == nil {
		return domain.Identity{}, &domain.ProviderError{Code: domain.CodeEmailAlreadyInUse}
	}
	return p.signUp(ctx, email, password)
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.record("sign_out")
	return p.signOut
}

func (p *fakeProvider) SendPasswordReset(context.Context, string) error {
	p.record("password_reset")
	return p.resetErr
}

func (p *fakeProvider) OnStateChange(fn func(*domain.Identity)) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	current := p.current
	p.mu.Unlock()

	fn(current)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// emit notifies listeners as if the provider's own state changed.
func (p *fakeProvider) emit(id *domain.Identity) {
	p.mu.Lock()
	p.current = id
	fns := make([]func(*domain.Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}

func (p *fakeProvider) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingKV fails every operation.
type failingKV struct{}

var errStorageDown = errors.New("storage down")

func (failingKV) GetItem(context.Context, string) (string, error) { return "", errStorageDown }
func (failingKV) SetItem(context.Context, string, string) error   { return errStorageDown }
func (failingKV) RemoveItem(context.Context, string) error        { return errStorageDown }
func (failingKV) Ping(context.Context) error                      { return errStorageDown }
func (failingKV) Close() error                                    { return nil }

var _ store.KV = failingKV{}

func newTestCache(clock *fakeClock) (*SessionCache, *memory.Store) {
	kv := memory.NewStore()
	c := NewSessionCache(kv, 24*time.Hour, nil)
	c.Now = clock.Now
	return c, kv
}

// recordingSleep captures backoff delays without sleeping.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleep) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func noJitter(time.Duration) time.Duration { return 0 }

func newTestRetry(sleep *recordingSleep) *RetryCoordinator {
	return NewRetryCoordinator(WithSleep(sleep.Sleep), WithJitter(noJitter))
}

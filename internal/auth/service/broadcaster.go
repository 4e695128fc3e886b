package service

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/prayerwall/internal/auth/domain"
	"github.com/aussiebroadwan/prayerwall/pkg/idx"
	"github.com/aussiebroadwan/prayerwall/pkg/slogx"
)

type subscriber struct {
	id idx.ID
	fn func(domain.SessionState)
}

// StateBroadcaster fans the provider's state changes out to any number of
// subscribers and replays the last known state to late subscribers.
//
// Callbacks run on the publishing goroutine, one at a time, in registration
// order. A callback may unsubscribe itself but must not call Subscribe.
type StateBroadcaster struct {
	logger  *slog.Logger
	metrics *Metrics

	// deliverMu serialises publishing and replay so no subscriber sees an
	// older state after a newer one.
	deliverMu sync.Mutex

	mu     sync.Mutex
	subs   []subscriber
	last   *domain.SessionState
	closed bool
	detach func()
}

// NewStateBroadcaster subscribes once to source.
func NewStateBroadcaster(source StateSource, logger *slog.Logger) *StateBroadcaster {
	b := &StateBroadcaster{logger: slogx.OrDefault(logger)}

	detach := source.OnStateChange(func(id *domain.Identity) {
		b.Publish(domain.StateFromIdentity(id))
	})

	b.mu.Lock()
	b.detach = detach
	b.mu.Unlock()
	return b
}

// WithMetrics attaches metrics and returns b.
func (b *StateBroadcaster) WithMetrics(m *Metrics) *StateBroadcaster {
	b.mu.Lock()
	b.metrics = m
	n := len(b.subs)
	b.mu.Unlock()

	m.subscribers(float64(n))
	return b
}

// Subscribe registers fn. If a state is already known fn receives it before
// Subscribe returns. The returned function is idempotent.
func (b *StateBroadcaster) Subscribe(fn func(domain.SessionState)) (unsubscribe func()) {
	sub := subscriber{id: idx.New(), fn: fn}

	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs = append(b.subs, sub)
	var last *domain.SessionState
	if b.last != nil {
		st := *b.last
		last = &st
	}
	metrics := b.metrics
	b.mu.Unlock()

	metrics.subscribers(1)
	if last != nil {
		b.deliver(sub, *last)
	}

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *StateBroadcaster) remove(id idx.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			b.metrics.subscribers(-1)
			return
		}
	}
}

// Publish records state as the last known one and delivers it to every
// current subscriber.
func (b *StateBroadcaster) Publish(state domain.SessionState) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	st := state
	b.last = &st
	snapshot := make([]subscriber, len(b.subs))
	copy(snapshot, b.subs)
	metrics := b.metrics
	b.mu.Unlock()

	metrics.stateChange(string(state.Status))
	for _, sub := range snapshot {
		b.deliver(sub, state)
	}
}

// deliver isolates a panicking subscriber from the rest.
func (b *StateBroadcaster) deliver(sub subscriber, state domain.SessionState) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("state subscriber panicked",
				"subscriber_id", sub.id.String(),
				"status", state.Status,
				"error", fmt.Sprint(r),
			)
		}
	}()
	sub.fn(state)
}

// Last returns the last known state.
func (b *StateBroadcaster) Last() (domain.SessionState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.last == nil {
		return domain.SessionState{}, false
	}
	return *b.last, true
}

// Len returns the number of active subscribers.
func (b *StateBroadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches from the provider and drops every subscriber.
func (b *StateBroadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	detach := b.detach
	n := len(b.subs)
	b.subs = nil
	metrics := b.metrics
	b.mu.Unlock()

	metrics.subscribers(-float64(n))
	if detach != nil {
		detach()
	}
}

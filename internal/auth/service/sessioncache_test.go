package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/prayerwall/internal/auth/domain"
	"github.com/aussiebroadwan/prayerwall/internal/auth/store/drivers/memory"
	"github.com/aussiebroadwan/prayerwall/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestSessionCache_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	cache, _ := newTestCache(clock)

	_, ok := cache.Get(ctx, "")
	require.False(t, ok)

	in := domain.CachedSession{SubjectID: "u1", Email: "a@x.com", DisplayName: "Alice"}
	require.NoError(t, cache.Put(ctx, in))

	got, ok := cache.Get(ctx, "a@x.com")
	require.True(t, ok)
	require.Equal(t, "u1", got.SubjectID)
	require.Equal(t, "Alice", got.DisplayName)
	require.True(t, got.CachedAt.Equal(clock.Now()), "CachedAt stamped by the cache clock")

	// An explicit CachedAt is kept.
	at := clock.Now().Add(-time.Hour)
	require.NoError(t, cache.Put(ctx, domain.CachedSession{SubjectID: "u2", Email: "b@x.com", CachedAt: at}))
	got, ok = cache.Get(ctx, "")
	require.True(t, ok)
	require.Equal(t, "u2", got.SubjectID)
	require.True(t, got.CachedAt.Equal(at))
}

func TestSessionCache_TTLBoundary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name  string
		age   time.Duration
		fresh bool
	}{
		{"just under ttl", 24*time.Hour - time.Millisecond, true},
		{"exactly ttl", 24 * time.Hour, false},
		{"just over ttl", 24*time.Hour + time.Millisecond, false},
		{"one hour", time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			cache, _ := newTestCache(clock)

			require.NoError(t, cache.Put(ctx, domain.CachedSession{
				SubjectID: "u1",
				Email:     "a@x.com",
				CachedAt:  clock.Now().Add(-tt.age),
			}))

			_, ok := cache.Get(ctx, "a@x.com")
			require.Equal(t, tt.fresh, ok)
		})
	}
}

func TestSessionCache_EmailMatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache, _ := newTestCache(newFakeClock())

	require.NoError(t, cache.Put(ctx, domain.CachedSession{SubjectID: "u1", Email: "a@x.com"}))

	_, ok := cache.Get(ctx, "other@x.com")
	require.False(t, ok, "email matches neither record nor marker")

	_, ok = cache.Get(ctx, "A@x.com")
	require.False(t, ok, "comparison is exact")

	require.NoError(t, cache.MarkLastUsed(ctx, "A@x.com"))
	got, ok := cache.Get(ctx, "A@x.com")
	require.True(t, ok, "marker matches the typed email")
	require.Equal(t, "u1", got.SubjectID)

	_, ok = cache.Get(ctx, "")
	require.True(t, ok, "no expectation accepts any fresh record")
}

func TestSessionCache_CorruptRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name  string
		value string
	}{
		{"not json", "{nope"},
		{"empty subject", `{"subjectId":"","email":"a@x.com","cachedAt":"2024-05-01T12:00:00Z"}`},
		{"missing timestamp", `{"subjectId":"u1","email":"a@x.com"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, kv := newTestCache(newFakeClock())
			require.NoError(t, kv.SetItem(ctx, SessionKey, tt.value))

			_, ok := cache.Get(ctx, "a@x.com")
			require.False(t, ok)
		})
	}

	t.Run("put rejects empty subject", func(t *testing.T) {
		cache, _ := newTestCache(newFakeClock())
		require.ErrorIs(t, cache.Put(ctx, domain.CachedSession{Email: "a@x.com"}), ErrEmptySubject)
	})
}

func TestSessionCache_Sealed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	cache, kv := newTestCache(clock)

	sealer, err := cryptox.NewSealer([]byte("seal-key"))
	require.NoError(t, err)
	cache.Sealer = sealer

	require.NoError(t, cache.Put(ctx, domain.CachedSession{SubjectID: "u1", Email: "a@x.com"}))

	raw, err := kv.GetItem(ctx, SessionKey)
	require.NoError(t, err)
	require.NotContains(t, raw, "a@x.com", "record is not stored in plain text")

	got, ok := cache.Get(ctx, "a@x.com")
	require.True(t, ok)
	require.Equal(t, "u1", got.SubjectID)

	other, err := cryptox.NewSealer([]byte("rotated-key"))
	require.NoError(t, err)
	cache.Sealer = other
	_, ok = cache.Get(ctx, "a@x.com")
	require.False(t, ok, "record sealed with another key is absent")
}

func TestSessionCache_Clear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache, kv := newTestCache(newFakeClock())

	require.NoError(t, cache.Put(ctx, domain.CachedSession{SubjectID: "u1", Email: "a@x.com"}))
	require.NoError(t, cache.MarkLastUsed(ctx, "a@x.com"))

	cache.Clear(ctx)

	_, ok := cache.Get(ctx, "")
	require.False(t, ok)
	_, err := kv.GetItem(ctx, LastIdentityKey)
	require.Error(t, err)
}

func TestSessionCache_StorageFailuresAreAbsorbed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := NewSessionCache(failingKV{}, 0, nil)

	require.Equal(t, DefaultSessionTTL, cache.TTL)

	_, ok := cache.Get(ctx, "a@x.com")
	require.False(t, ok)

	// Clear never panics or returns storage errors.
	cache.Clear(ctx)

	require.ErrorIs(t, cache.Put(ctx, domain.CachedSession{SubjectID: "u1"}), errStorageDown)
}

func TestSessionCache_Purge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	cache, kv := newTestCache(clock)

	purged, err := cache.Purge(ctx)
	require.NoError(t, err)
	require.False(t, purged)

	require.NoError(t, cache.Put(ctx, domain.CachedSession{SubjectID: "u1"}))
	purged, err = cache.Purge(ctx)
	require.NoError(t, err)
	require.False(t, purged, "fresh record is kept")

	clock.Advance(25 * time.Hour)
	purged, err = cache.Purge(ctx)
	require.NoError(t, err)
	require.True(t, purged)

	_, err = kv.GetItem(ctx, SessionKey)
	require.Error(t, err)

	require.NoError(t, kv.SetItem(ctx, SessionKey, "garbage"))
	purged, err = cache.Purge(ctx)
	require.NoError(t, err)
	require.True(t, purged, "unreadable record is removed")
}

// getHookKV runs onGet before every read of the wrapped store.
type getHookKV struct {
	*memory.Store
	onGet func(key string)
}

func (kv *getHookKV) GetItem(ctx context.Context, key string) (string, error) {
	if kv.onGet != nil {
		kv.onGet(key)
	}
	return kv.Store.GetItem(ctx, key)
}

func TestSessionCache_PurgeDoesNotDropConcurrentPut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()

	kv := &getHookKV{Store: memory.NewStore()}
	cache := NewSessionCache(kv, 24*time.Hour, nil)
	cache.Now = clock.Now

	require.NoError(t, cache.Put(ctx, domain.CachedSession{SubjectID: "old"}))
	clock.Advance(25 * time.Hour)

	// A sign in writes a fresh record while Purge is between reading the
	// expired one and removing it.
	var (
		once   sync.Once
		putErr = make(chan error, 1)
	)
	kv.onGet = func(key string) {
		once.Do(func() {
			go func() { putErr <- cache.Put(ctx, domain.CachedSession{SubjectID: "new"}) }()
			select {
			case err := <-putErr:
				putErr <- err
			case <-time.After(50 * time.Millisecond):
			}
		})
	}

	purged, err := cache.Purge(ctx)
	require.NoError(t, err)
	require.True(t, purged)
	require.NoError(t, <-putErr)

	kv.onGet = nil
	got, ok := cache.Get(ctx, "")
	require.True(t, ok, "the record written during purge survives")
	require.Equal(t, "new", got.SubjectID)
}

package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/prayerwall/internal/auth/domain"
	"github.com/aussiebroadwan/prayerwall/internal/auth/store"
	"github.com/aussiebroadwan/prayerwall/pkg/cryptox"
	"github.com/aussiebroadwan/prayerwall/pkg/slogx"
)

const (
	SessionKey      = "auth.session"
	LastIdentityKey = "auth.last_identity"

	DefaultSessionTTL = 24 * time.Hour
)

var ErrEmptySubject = errors.New("session cache: empty subject id")

// sealAD binds sealed records to their key so a sealed marker cannot be
// swapped in for a session.
var sealAD = []byte(SessionKey)

type lookupResult string

const (
	lookupHit      lookupResult = "hit"
	lookupMiss     lookupResult = "miss"
	lookupExpired  lookupResult = "expired"
	lookupMismatch lookupResult = "mismatch"
	lookupCorrupt  lookupResult = "corrupt"
	lookupError    lookupResult = "error"
)

// SessionCache keeps the last authenticated identity in a KV store so sign in
// can be answered offline or while the provider is throttling. An entry is
// fresh while now - CachedAt < TTL.
type SessionCache struct {
	Store  store.KV
	TTL    time.Duration
	Logger *slog.Logger

	// Sealer, when set, encrypts the stored record.
	Sealer *cryptox.Sealer

	Metrics *Metrics

	// Now is the cache clock. Defaults to time.Now.
	Now func() time.Time

	// writeMu serialises writes so Purge cannot delete a record written
	// between its check and its removal.
	writeMu sync.Mutex
}

// NewSessionCache creates a cache over kv. A non-positive ttl means 24h.
func NewSessionCache(kv store.KV, ttl time.Duration, logger *slog.Logger) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionCache{
		Store:  kv,
		TTL:    ttl,
		Logger: slogx.OrDefault(logger),
	}
}

func (c *SessionCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *SessionCache) logger() *slog.Logger { return slogx.OrDefault(c.Logger) }

// Put overwrites the cached record. CachedAt is stamped with the cache clock
// when zero.
func (c *SessionCache) Put(ctx context.Context, s domain.CachedSession) error {
	if s.SubjectID == "" {
		return ErrEmptySubject
	}
	if s.CachedAt.IsZero() {
		s.CachedAt = c.now()
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session cache: encode: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	value := string(raw)
	if c.Sealer != nil {
		sealed, err := c.Sealer.Seal(raw, sealAD)
		if err != nil {
			return fmt.Errorf("session cache: seal: %w", err)
		}
		value = base64.RawStdEncoding.EncodeToString(sealed)
	}

	if err := c.Store.SetItem(ctx, SessionKey, value); err != nil {
		return fmt.Errorf("session cache: put: %w", err)
	}
	return nil
}

// Get returns the cached record when it is fresh and, if expectedEmail is not
// empty, belongs to that email (directly or through the last-used marker).
// Storage and decoding failures count as a miss.
func (c *SessionCache) Get(ctx context.Context, expectedEmail string) (domain.CachedSession, bool) {
	s, result := c.lookup(ctx, expectedEmail)
	c.Metrics.cacheLookup(string(result))
	if result != lookupHit {
		return domain.CachedSession{}, false
	}
	return s, true
}

func (c *SessionCache) lookup(ctx context.Context, expectedEmail string) (domain.CachedSession, lookupResult) {
	s, result := c.load(ctx)
	if result != lookupHit {
		return domain.CachedSession{}, result
	}

	if !c.fresh(s) {
		return domain.CachedSession{}, lookupExpired
	}

	if expectedEmail != "" && expectedEmail != s.Email {
		marker, err := c.Store.GetItem(ctx, LastIdentityKey)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			c.logger().Warn("failed to read last identity marker", "error", err)
		}
		if err != nil || marker != expectedEmail {
			return domain.CachedSession{}, lookupMismatch
		}
	}

	return s, lookupHit
}

func (c *SessionCache) fresh(s domain.CachedSession) bool {
	return s.Age(c.now()) < c.TTL
}

// load reads and decodes the stored record without judging freshness.
func (c *SessionCache) load(ctx context.Context) (domain.CachedSession, lookupResult) {
	value, err := c.Store.GetItem(ctx, SessionKey)
	if errors.Is(err, store.ErrNotFound) {
		return domain.CachedSession{}, lookupMiss
	}
	if err != nil {
		c.logger().Warn("failed to read cached session", "error", err)
		return domain.CachedSession{}, lookupError
	}

	raw := []byte(value)
	if c.Sealer != nil {
		sealed, err := base64.RawStdEncoding.DecodeString(value)
		if err != nil {
			c.logger().Warn("discarding unreadable cached session", "error", err)
			return domain.CachedSession{}, lookupCorrupt
		}
		raw, err = c.Sealer.Open(sealed, sealAD)
		if err != nil {
			c.logger().Warn("discarding unreadable cached session", "error", err)
			return domain.CachedSession{}, lookupCorrupt
		}
	}

	var s domain.CachedSession
	if err := json.Unmarshal(raw, &s); err != nil {
		c.logger().Warn("discarding unreadable cached session", "error", err)
		return domain.CachedSession{}, lookupCorrupt
	}
	if s.SubjectID == "" || s.CachedAt.IsZero() {
		c.logger().Warn("discarding unreadable cached session", "error", "missing subject id or timestamp")
		return domain.CachedSession{}, lookupCorrupt
	}

	return s, lookupHit
}

// MarkLastUsed records the email the user last authenticated with, exactly
// as typed.
func (c *SessionCache) MarkLastUsed(ctx context.Context, email string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.Store.SetItem(ctx, LastIdentityKey, email); err != nil {
		return fmt.Errorf("session cache: mark last used: %w", err)
	}
	return nil
}

// Clear removes the record and the last-used marker. Failures are logged.
func (c *SessionCache) Clear(ctx context.Context) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for _, key := range []string{SessionKey, LastIdentityKey} {
		if err := c.Store.RemoveItem(ctx, key); err != nil {
			c.logger().Warn("failed to clear session cache", "key", key, "error", err)
		}
	}
}

// Purge physically deletes a record that Get would no longer return because
// it is expired or unreadable. It reports whether anything was removed.
func (c *SessionCache) Purge(ctx context.Context) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	s, result := c.load(ctx)
	switch result {
	case lookupMiss:
		return false, nil
	case lookupError:
		return false, errors.New("session cache: purge: storage unavailable")
	case lookupHit:
		if c.fresh(s) {
			return false, nil
		}
	}

	if err := c.Store.RemoveItem(ctx, SessionKey); err != nil {
		return false, fmt.Errorf("session cache: purge: %w", err)
	}
	return true, nil
}

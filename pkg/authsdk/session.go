package authsdk

import (
	"context"
	"net/url"
)

// CurrentUser returns the signed-in user, or nil.
func (c *Client) CurrentUser() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.session == nil {
		return nil
	}
	u := c.session.User
	return &u
}

// CurrentSession returns a copy of the current session, or nil.
func (c *Client) CurrentSession() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// IDToken returns a valid ID token, refreshing it first if it is close to
// expiry.
func (c *Client) IDToken(ctx context.Context) (string, error) {
	if err := c.RefreshIfNeeded(ctx); err != nil {
		return "", err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return "", ErrNoSession
	}
	return c.session.IDToken, nil
}

// RefreshIfNeeded exchanges the refresh token for a new ID token when the
// current one expires within 30 seconds. It is a no-op without a session.
func (c *Client) RefreshIfNeeded(ctx context.Context) error {
	c.mu.RLock()
	if c.session == nil || c.now().Before(c.session.ExpiresAt.Add(-refreshSkew)) {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	// Double-check after acquiring write lock (another goroutine may have refreshed)
	if c.session == nil || c.now().Before(c.session.ExpiresAt.Add(-refreshSkew)) {
		c.mu.Unlock()
		return nil
	}
	current := *c.session
	c.mu.Unlock()

	var resp tokenResponse
	err := c.postForm(ctx, c.endpoint(c.TokenURL, "/token"), url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {current.RefreshToken},
	}, &resp)
	if err != nil {
		if isSessionRevoked(err) {
			c.dropSession(current.RefreshToken)
		}
		return err
	}

	next := current
	next.IDToken = resp.IDToken
	if resp.RefreshToken != "" {
		next.RefreshToken = resp.RefreshToken
	}
	next.ExpiresAt = c.now().Add(parseExpiresIn(resp.ExpiresIn))
	if user, exp, err := ParseIDToken(resp.IDToken); err == nil {
		if user.Email != "" {
			next.User.Email = user.Email
		}
		if user.DisplayName != "" {
			next.User.DisplayName = user.DisplayName
		}
		if !exp.IsZero() {
			next.ExpiresAt = exp
		}
	}

	c.mu.Lock()
	// A sign in or sign out may have raced the refresh; only replace the
	// session the refresh was issued for.
	if c.session == nil || c.session.RefreshToken != current.RefreshToken {
		c.mu.Unlock()
		return nil
	}
	c.session = &next
	c.mu.Unlock()

	u := next.User
	c.notify(&u)
	return nil
}

// dropSession clears the session if it still holds refreshToken, then tells
// listeners the user is signed out.
func (c *Client) dropSession(refreshToken string) {
	c.mu.Lock()
	if c.session == nil || c.session.RefreshToken != refreshToken {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.mu.Unlock()

	c.notify(nil)
}

// OnStateChange registers fn for sign-in state transitions. fn is called with
// the current user (nil when signed out) before OnStateChange returns. The
// returned function unregisters fn and is safe to call more than once.
func (c *Client) OnStateChange(fn func(*User)) (unsubscribe func()) {
	c.listenersMu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	c.listenersMu.Unlock()

	fn(c.CurrentUser())

	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Client) notify(u *User) {
	c.listenersMu.Lock()
	snapshot := make([]listener, len(c.listeners))
	copy(snapshot, c.listeners)
	c.listenersMu.Unlock()

	for _, l := range snapshot {
		if u == nil {
			l.fn(nil)
			continue
		}
		cp := *u
		l.fn(&cp)
	}
}

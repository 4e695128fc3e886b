package authsdk

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/prayerwall/pkg/jwtx"
)

const (
	DefaultBaseURL  = "https://identitytoolkit.googleapis.com/v1"
	DefaultTokenURL = "https://securetoken.googleapis.com/v1"

	// refreshSkew is how long before expiry an ID token is considered stale.
	refreshSkew = 30 * time.Second
)

// Client talks to the identity provider and holds the current session.
type Client struct {
	APIKey     string
	BaseURL    string
	TokenURL   string
	HTTPClient *http.Client

	// Now is the clock used for token expiry. Defaults to time.Now.
	Now func() time.Time

	mu      sync.RWMutex
	session *Session

	listenersMu sync.Mutex
	listeners   []listener
	nextID      uint64
}

type listener struct {
	id uint64
	fn func(*User)
}

// NewClient creates a client against the default provider endpoints.
func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:   apiKey,
		BaseURL:  DefaultBaseURL,
		TokenURL: DefaultTokenURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithEndpoints overrides the provider endpoints, empty values are kept.
func (c *Client) WithEndpoints(baseURL, tokenURL string) *Client {
	if baseURL != "" {
		c.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if tokenURL != "" {
		c.TokenURL = strings.TrimSuffix(tokenURL, "/")
	}
	return c
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// SignInWithPassword authenticates with email and password and makes the
// user the current session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*User, error) {
	var resp accountResponse
	err := c.postJSON(ctx, c.endpoint(c.BaseURL, "/accounts:signInWithPassword"), passwordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.establish(resp), nil
}

// SignUp creates an email/password account and signs it in.
func (c *Client) SignUp(ctx context.Context, email, password string) (*User, error) {
	var resp accountResponse
	err := c.postJSON(ctx, c.endpoint(c.BaseURL, "/accounts:signUp"), passwordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.establish(resp), nil
}

// SendPasswordResetEmail asks the provider to mail a reset link to email.
func (c *Client) SendPasswordResetEmail(ctx context.Context, email string) error {
	return c.postJSON(ctx, c.endpoint(c.BaseURL, "/accounts:sendOobCode"), oobCodeRequest{
		RequestType: "PASSWORD_RESET",
		Email:       email,
	}, nil)
}

// SignOut drops the local session. The provider keeps no server-side session
// for password sign-in, so there is nothing to revoke remotely.
func (c *Client) SignOut(_ context.Context) error {
	c.mu.Lock()
	had := c.session != nil
	c.session = nil
	c.mu.Unlock()

	if had {
		c.notify(nil)
	}
	return nil
}

func (c *Client) establish(resp accountResponse) *User {
	user := User{
		UID:         resp.LocalID,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
	}
	expiresAt := c.now().Add(parseExpiresIn(resp.ExpiresIn))

	if claims, err := jwtx.ParseUnverified(resp.IDToken); err == nil {
		if user.UID == "" {
			user.UID = claims.SubjectID()
		}
		if user.Email == "" {
			user.Email = claims.Email
		}
		if user.DisplayName == "" {
			user.DisplayName = claims.Name
		}
		// A token that already looks expired means our clock disagrees with the
		// provider's; expires_in is relative and stays usable.
		if exp := claims.Expiry(); !exp.IsZero() && claims.ValidateExpiryWithLeeway(c.now(), clockSkew) == nil {
			expiresAt = exp
		}
	}

	c.mu.Lock()
	c.session = &Session{
		User:         user,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
	}
	c.mu.Unlock()

	c.notify(&user)
	return &user
}

// clockSkew is the tolerance applied to ID token exp and nbf claims.
const clockSkew = time.Minute

// parseExpiresIn reads the provider's string-encoded seconds, defaulting to
// one hour.
func parseExpiresIn(s string) time.Duration {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return time.Hour
	}
	return time.Duration(n) * time.Second
}

// ParseIDToken reads the user and expiry out of an ID token without
// verifying its signature.
func ParseIDToken(raw string) (*User, time.Time, error) {
	claims, err := jwtx.ParseUnverified(raw)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &User{
		UID:         claims.SubjectID(),
		Email:       claims.Email,
		DisplayName: claims.Name,
	}, claims.Expiry(), nil
}

package app

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/aussiebroadwan/prayerwall/pkg/authsdk"
	"github.com/aussiebroadwan/prayerwall/pkg/httpx"
)

const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

type Config struct {
	Env                  string        `env:"ENV" envDefault:"dev"`                    // dev, staging, prod
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`             // debug, info, warn, error
	LogFormat            string        `env:"LOG_FORMAT" envDefault:"json"`            // json, text
	ListenAddr           string        `env:"AUTH_LISTEN_ADDR" envDefault:"127.0.0.1"` // interface the HTTP server binds
	Port                 int           `env:"PORT" envDefault:"8080"`                  // HTTP server port
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`  // graceful shutdown timeout
	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1m"`   // cache purge and token refresh

	ProviderAPIKey   string `env:"AUTH_PROVIDER_API_KEY,required,notEmpty"`
	ProviderBaseURL  string `env:"AUTH_PROVIDER_BASE_URL"`  // defaults to authsdk.DefaultBaseURL
	ProviderTokenURL string `env:"AUTH_PROVIDER_TOKEN_URL"` // defaults to authsdk.DefaultTokenURL

	Storage      string `env:"AUTH_STORAGE" envDefault:"sqlite"` // sqlite, redis, memory
	DatabaseFile string `env:"AUTH_DATABASE_FILE" envDefault:"auth.db"`
	RedisURL     string `env:"AUTH_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisPrefix  string `env:"AUTH_REDIS_PREFIX" envDefault:"prayerwall"`

	CacheTTL     time.Duration `env:"AUTH_CACHE_TTL" envDefault:"24h"`
	CacheSealKey string        `env:"AUTH_CACHE_SEAL_KEY"` // optional: encrypts the cached session at rest

	RetryMax    int           `env:"AUTH_RETRY_MAX" envDefault:"3"`
	RetryBase   time.Duration `env:"AUTH_RETRY_BASE" envDefault:"3s"`
	RetryJitter time.Duration `env:"AUTH_RETRY_JITTER" envDefault:"500ms"`

	ForceOffline  bool          `env:"AUTH_FORCE_OFFLINE"`
	ProbeAddr     string        `env:"AUTH_PROBE_ADDR"` // host:port, defaults to the provider host
	ProbeInterval time.Duration `env:"AUTH_PROBE_INTERVAL" envDefault:"5s"`
	ProbeTimeout  time.Duration `env:"AUTH_PROBE_TIMEOUT" envDefault:"2s"`

	// RateLimits is read from RATELIMIT_{STRICT,MODERATE,LENIENT}_* by LoadConfig,
	// which validates it separately.
	RateLimits httpx.RateLimits
}

// LoadConfig reads .env when present, then the process environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.RateLimits, err = httpx.RateLimitsFromEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	switch c.Storage {
	case StorageSQLite, StorageRedis, StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("AUTH_STORAGE: unknown driver %q", c.Storage))
	}

	if c.ListenAddr != "" && c.ListenAddr != "localhost" && net.ParseIP(c.ListenAddr) == nil {
		errs = append(errs, fmt.Errorf("AUTH_LISTEN_ADDR: %q is not an IP address", c.ListenAddr))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT: %d out of range", c.Port))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("AUTH_CACHE_TTL: must be positive"))
	}
	if c.RetryMax < 0 {
		errs = append(errs, errors.New("AUTH_RETRY_MAX: must not be negative"))
	}
	if c.RetryBase <= 0 {
		errs = append(errs, errors.New("AUTH_RETRY_BASE: must be positive"))
	}
	if c.RetryJitter < 0 {
		errs = append(errs, errors.New("AUTH_RETRY_JITTER: must not be negative"))
	}
	if !c.ForceOffline && c.ProbeInterval <= 0 {
		errs = append(errs, errors.New("AUTH_PROBE_INTERVAL: must be positive"))
	}

	return errors.Join(errs...)
}

// listenAddr is the host:port the HTTP server binds. An empty ListenAddr
// binds every interface.
func (c Config) listenAddr() string {
	return net.JoinHostPort(c.ListenAddr, strconv.Itoa(c.Port))
}

// baseURL is the configured provider base URL or the SDK default.
func (c Config) baseURL() string {
	if c.ProviderBaseURL != "" {
		return c.ProviderBaseURL
	}
	return authsdk.DefaultBaseURL
}

func (c Config) tokenURL() string {
	if c.ProviderTokenURL != "" {
		return c.ProviderTokenURL
	}
	return authsdk.DefaultTokenURL
}

// probeAddr is AUTH_PROBE_ADDR, or the provider host with the port implied by
// its scheme.
func (c Config) probeAddr() (string, error) {
	if c.ProbeAddr != "" {
		return c.ProbeAddr, nil
	}

	u, err := url.Parse(c.baseURL())
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("derive probe address from %q: invalid url", c.baseURL())
	}

	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aussiebroadwan/prayerwall/internal/auth/service"
	"github.com/aussiebroadwan/prayerwall/internal/auth/store"
	"github.com/aussiebroadwan/prayerwall/pkg/httpx"
	"github.com/aussiebroadwan/prayerwall/pkg/slogx"

	_ "github.com/aussiebroadwan/prayerwall/api/authgate" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store   store.KV
	monitor service.ConnectivityMonitor

	Gateway     *service.Gateway
	Broadcaster *service.StateBroadcaster

	// Gatherer backs GET /metrics. The route is not registered when nil.
	Gatherer prometheus.Gatherer

	// Limits defaults to httpx.DefaultRateLimits.
	Limits *httpx.RateLimits

	events *EventsHandler
}

func NewRouter(
	buildVersion string,
	st store.KV,
	monitor service.ConnectivityMonitor,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		monitor:      monitor,
		logger:       slogx.OrDefault(logger),
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	limits := httpx.DefaultRateLimits()
	if r.Limits != nil {
		limits = *r.Limits
	}

	r.registerSession(limits)
	r.registerEvents(limits)
	r.registerSystem(limits)

	r.Mux.Handle("GET /swagger/",
		httpx.Chain(httpSwagger.Handler(),
			httpx.RateLimitByIP(limits.Lenient),
		),
	)
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Prayerwall Authentication Gateway API
//	@version		0.1.0
//	@description	Session gateway in front of the identity provider. Sign-in falls back to the last cached
//	@description	session while the provider is unreachable or out of quota, and revalidates it once back online.
//
//	@contact.name	AussieBroadWAN Team
//	@contact.url	https://github.com/aussiebroadwan/prayerwall
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host			localhost:8080
//	@BasePath		/
//
//	@schemes		http https
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// Close disconnects open state streams. http.Server.Shutdown does not wait
// for hijacked connections.
func (r *Router) Close() {
	if r.events != nil {
		r.events.Close()
	}
}

func (r *Router) registerSession(limits httpx.RateLimits) {
	h := &SessionHandler{Gateway: r.Gateway}

	// Credential endpoints are limited per client IP and email so one
	// address cannot be brute forced from a single client.
	r.Mux.Handle("POST /v1/session/sign-in",
		httpx.Chain(http.HandlerFunc(h.HandleSignIn),
			httpx.RateLimitByIPAndJSONField(limits.Strict, "email"),
		),
	)
	r.Mux.Handle("POST /v1/session/sign-up",
		httpx.Chain(http.HandlerFunc(h.HandleSignUp),
			httpx.RateLimitByIPAndJSONField(limits.Strict, "email"),
		),
	)
	r.Mux.Handle("POST /v1/session/password-reset",
		httpx.Chain(http.HandlerFunc(h.HandlePasswordReset),
			httpx.RateLimitByIPAndJSONField(limits.Moderate, "email"),
		),
	)
	r.Mux.Handle("POST /v1/session/sign-out",
		httpx.Chain(http.HandlerFunc(h.HandleSignOut),
			httpx.RateLimitByIP(limits.Moderate),
		),
	)
}

func (r *Router) registerEvents(limits httpx.RateLimits) {
	r.events = NewEventsHandler(r.Broadcaster)

	r.Mux.Handle("GET /v1/session/events",
		httpx.Chain(r.events,
			httpx.RateLimitByIP(limits.Lenient),
		),
	)
}

func (r *Router) registerSystem(limits httpx.RateLimits) {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(limits.Lenient),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.monitor),
			httpx.RateLimitByIP(limits.Lenient),
		),
	)

	if r.Gatherer != nil {
		r.Mux.Handle("GET /metrics", promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{}))
	}
}

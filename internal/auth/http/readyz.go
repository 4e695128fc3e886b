package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/prayerwall/internal/auth/service"
	"github.com/aussiebroadwan/prayerwall/internal/auth/store"
	"github.com/aussiebroadwan/prayerwall/pkg/httpx"
)

// ReadyzHandler reports storage and provider connectivity. Only a storage
// failure makes the service unready: offline the gateway still answers from
// the session cache, so lost connectivity is reported as "offline" with 200.
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness endpoint reporting session storage and identity provider connectivity
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	HealthResponse	"status, uptime, version, checks - storage unavailable"
//	@Router			/readyz [get].
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.KV,
	monitor service.ConnectivityMonitor,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &HealthChecks{
			Storage:      "ok",
			Connectivity: "online",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Storage = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if monitor != nil && !monitor.IsOnline() {
			checks.Connectivity = "offline"
			if overallStatus == "ok" {
				overallStatus = "offline"
			}
		}

		response := HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		}
		httpx.WriteJSON(w, statusCode, response)
	}
}

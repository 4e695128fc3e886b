package http

import (
	"net/http"
	"strconv"

	"github.com/aussiebroadwan/prayerwall/internal/auth/domain"
	"github.com/aussiebroadwan/prayerwall/pkg/httpx"
	"github.com/aussiebroadwan/prayerwall/pkg/slogx"
)

// exhaustedRetryAfter is advertised when the provider is out of quota and no
// cached session could stand in.
const exhaustedRetryAfter = 30

func statusForKind(k domain.Kind) int {
	switch k {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindResourceExhausted, domain.KindOffline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// writeFailure renders a gateway failure with the kind as the error code and
// the user message as the description.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	f := domain.FailureFromError(err)
	status := statusForKind(f.Kind)

	log := slogx.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Warn("session request failed", "kind", f.Kind.String(), "code", f.Code, "error", err)
	} else {
		log.Info("session request rejected", "kind", f.Kind.String(), "code", f.Code)
	}

	if f.Kind == domain.KindResourceExhausted {
		w.Header().Set("Retry-After", strconv.Itoa(exhaustedRetryAfter))
	}
	httpx.WriteError(w, status, f.Kind.String(), f.UserMessage())
}

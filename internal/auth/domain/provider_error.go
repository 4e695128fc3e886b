package domain

import (
	"errors"
	"strings"
)

// Stable machine-readable provider codes.
const (
	CodeInvalidEmail          = "invalid-email"
	CodeMissingEmail          = "missing-email"
	CodeMissingPassword       = "missing-password"
	CodeWeakPassword          = "weak-password"
	CodeWrongPassword         = "wrong-password"
	CodeUserNotFound          = "user-not-found"
	CodeUserDisabled          = "user-disabled"
	CodeInvalidCredential     = "invalid-credential"
	CodeEmailAlreadyInUse     = "email-already-in-use"
	CodeQuotaExceeded         = "quota-exceeded"
	CodeTooManyRequests       = "too-many-requests"
	CodeResourceExhausted     = "resource-exhausted"
	CodeInsufficientResources = "insufficient-resources"
	CodeNetworkRequestFailed  = "network-request-failed"
)

// ProviderError is an error reported by the identity provider.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

var kindByCode = map[string]Kind{
	CodeInvalidEmail:          KindInvalidInput,
	CodeMissingEmail:          KindInvalidInput,
	CodeMissingPassword:       KindInvalidInput,
	CodeWeakPassword:          KindInvalidInput,
	CodeWrongPassword:         KindUnauthorized,
	CodeUserNotFound:          KindUnauthorized,
	CodeUserDisabled:          KindUnauthorized,
	CodeInvalidCredential:     KindUnauthorized,
	CodeEmailAlreadyInUse:     KindConflict,
	CodeQuotaExceeded:         KindResourceExhausted,
	CodeTooManyRequests:       KindResourceExhausted,
	CodeResourceExhausted:     KindResourceExhausted,
	CodeInsufficientResources: KindResourceExhausted,
	CodeNetworkRequestFailed:  KindOffline,
}

// exhaustionHints are matched against lower-cased messages when the code is
// missing or unrecognised.
var exhaustionHints = []string{"quota", "metric", "insufficient_resources", "insufficient-resources"}

// IsResourceExhaustion reports whether code or message signal provider-side
// rate limiting or quota exhaustion.
func IsResourceExhaustion(code, message string) bool {
	if kindByCode[code] == KindResourceExhausted {
		return true
	}
	msg := strings.ToLower(message)
	for _, hint := range exhaustionHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// ClassifyProviderError maps a provider error onto the failure taxonomy.
func ClassifyProviderError(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}

	code, msg := "", err.Error()
	var pe *ProviderError
	if errors.As(err, &pe) {
		code, msg = pe.Code, pe.Message
	}

	if IsResourceExhaustion(code, msg) {
		return KindResourceExhausted
	}
	if k, ok := kindByCode[code]; ok {
		return k
	}
	return KindUnknown
}

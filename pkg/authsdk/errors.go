package authsdk

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrNoSession = errors.New("authsdk: no signed-in user")

// Normalized provider error codes.
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
	CodeOperationNotAllowed   = "operation-not-allowed"
	CodeQuotaExceeded         = "quota-exceeded"
	CodeTooManyRequests       = "too-many-requests"
	CodeResourceExhausted     = "resource-exhausted"
	CodeInsufficientResources = "insufficient-resources"
	CodeUserTokenExpired      = "user-token-expired"
	CodeInvalidRefreshToken   = "invalid-refresh-token"
	CodeNetworkRequestFailed  = "network-request-failed"
	CodeInternalError         = "internal-error"
)

// upstreamCodes maps the provider's SCREAMING_CASE messages onto normalized codes.
var upstreamCodes = map[string]string{
	"INVALID_EMAIL":               CodeInvalidEmail,
	"MISSING_EMAIL":               CodeMissingEmail,
	"MISSING_PASSWORD":            CodeMissingPassword,
	"WEAK_PASSWORD":               CodeWeakPassword,
	"INVALID_PASSWORD":            CodeWrongPassword,
	"EMAIL_NOT_FOUND":             CodeUserNotFound,
	"USER_NOT_FOUND":              CodeUserNotFound,
	"USER_DISABLED":               CodeUserDisabled,
	"INVALID_LOGIN_CREDENTIALS":   CodeInvalidCredential,
	"EMAIL_EXISTS":                CodeEmailAlreadyInUse,
	"OPERATION_NOT_ALLOWED":       CodeOperationNotAllowed,
	"PASSWORD_LOGIN_DISABLED":     CodeOperationNotAllowed,
	"QUOTA_EXCEEDED":              CodeQuotaExceeded,
	"TOO_MANY_ATTEMPTS_TRY_LATER": CodeTooManyRequests,
	"RESOURCE_EXHAUSTED":          CodeResourceExhausted,
	"INSUFFICIENT_RESOURCES":      CodeInsufficientResources,
	"TOKEN_EXPIRED":               CodeUserTokenExpired,
	"INVALID_REFRESH_TOKEN":       CodeInvalidRefreshToken,
	"INVALID_GRANT":               CodeInvalidRefreshToken,
	"INVALID_GRANT_TYPE":          CodeInvalidRefreshToken,
	"MISSING_REFRESH_TOKEN":       CodeInvalidRefreshToken,
}

// Error is a failure reported by the identity provider, or a transport
// failure reaching it.
type Error struct {
	StatusCode int    // 0 for transport failures
	Code       string // normalized code
	Message    string // raw provider message

	err error
}

func (e *Error) Error() string {
	if e.Message == "" || e.Message == e.Code {
		return fmt.Sprintf("authsdk: %s", e.Code)
	}
	return fmt.Sprintf("authsdk: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// ErrorCode returns the normalized code carried by err, or "".
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// providerErrorBody is the provider's error envelope:
//
//	{"error":{"code":400,"message":"EMAIL_EXISTS","status":"INVALID_ARGUMENT"}}
//
// The token endpoint uses a flat {"error":"invalid_grant","error_description":"..."}
// shape instead, handled by parseErrorResponse.
type providerErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// normalizeCode turns a provider message such as
// "WEAK_PASSWORD : Password should be at least 6 characters" into a stable code.
func normalizeCode(status int, message, grpcStatus string) string {
	head := strings.TrimSpace(message)
	if i := strings.Index(head, " : "); i >= 0 {
		head = strings.TrimSpace(head[:i])
	}

	if code, ok := upstreamCodes[head]; ok {
		return code
	}
	if code, ok := upstreamCodes[grpcStatus]; ok {
		return code
	}
	if status == http.StatusTooManyRequests {
		return CodeTooManyRequests
	}
	if head == "" || strings.ContainsAny(head, " \t") {
		return CodeInternalError
	}
	return strings.ToLower(strings.ReplaceAll(head, "_", "-"))
}

func networkError(err error) *Error {
	return &Error{
		Code:    CodeNetworkRequestFailed,
		Message: err.Error(),
		err:     err,
	}
}

// isSessionRevoked reports whether a refresh failure means the session is gone
// for good.
func isSessionRevoked(err error) bool {
	switch ErrorCode(err) {
	case CodeUserTokenExpired, CodeUserDisabled, CodeUserNotFound, CodeInvalidRefreshToken:
		return true
	}
	return false
}

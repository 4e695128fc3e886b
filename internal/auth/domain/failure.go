package domain

import (
	"errors"
	"fmt"
)

// Kind is the provider-independent failure taxonomy surfaced to callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindUnauthorized
	KindConflict
	KindResourceExhausted
	KindOffline
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindOffline:
		return "offline"
	default:
		return "unknown"
	}
}

const (
	MsgServiceUnavailable = "service temporarily unavailable"
	MsgNetworkUnavailable = "network unavailable"
)

// Failure is the only error type returned by the gateway and retry coordinator.
type Failure struct {
	Kind    Kind
	Code    string // provider code when one was reported
	Message string
	Err     error // underlying cause, may be nil
}

func (f *Failure) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("%s (%s): %s", f.Kind, f.Code, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// UserMessage is the text a UI should show for this failure.
func (f *Failure) UserMessage() string {
	switch f.Kind {
	case KindResourceExhausted:
		return "authentication service temporarily unavailable, please retry shortly"
	case KindOffline:
		return "you appear to be offline, check your connection and try again"
	case KindUnauthorized:
		return "incorrect email or password"
	case KindConflict:
		return "an account with this email already exists"
	case KindInvalidInput:
		return f.Message
	default:
		return f.Message
	}
}

// NewFailure builds a Failure without an underlying cause.
func NewFailure(kind Kind, message string) *Failure {
	return &Failure{Kind: kind, Message: message}
}

// FailureFromError maps any provider error onto the taxonomy. Errors that are
// already a *Failure pass through untouched.
func FailureFromError(err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	out := &Failure{Kind: ClassifyProviderError(err), Message: err.Error(), Err: err}
	var pe *ProviderError
	if errors.As(err, &pe) {
		out.Code = pe.Code
		out.Message = pe.Message
		if out.Message == "" {
			out.Message = pe.Code
		}
	}
	return out
}

// KindOf returns the failure kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

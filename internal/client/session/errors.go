package session

import (
	"errors"
	"fmt"
)

// Kind classifies a failed gateway call.
type Kind string

const (
	// KindRateLimitExceeded is the code the server puts in a 429 denial body.
	KindRateLimitExceeded Kind = "RATE_LIMIT_EXCEEDED"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindHTTP              Kind = "HTTP_ERROR"
	KindNetwork           Kind = "NETWORK_ERROR"
	KindMalformedResponse Kind = "MALFORMED_RESPONSE"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrHTTP              = &Error{Kind: KindHTTP}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}

	ErrAlreadyAuthenticated = errors.New("session already authenticated")
	ErrNotBootstrapped      = errors.New("session not bootstrapped")
	ErrSessionChanged       = errors.New("session changed during login")
	ErrLoginRejected        = errors.New("login rejected")
)

// Error is returned by Gateway.Call.
type Error struct {
	Kind     Kind
	Status   int
	Endpoint string
	// Code is the "error" field of a JSON error body, when present.
	Code string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Endpoint != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Endpoint)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can compare with the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Status == 0 || t.Status == e.Status)
}

// RateLimited reports whether err is a server-side admission denial.
func RateLimited(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindHTTP && e.Code == string(KindRateLimitExceeded)
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTransport       = errors.New("transport error")
	ErrExchange        = errors.New("exchange error")
	ErrDataUnavailable = errors.New("data unavailable")
	ErrStaleFill       = errors.New("fill confirmation not observed")
)

type FailureKind string

const (
	FailureTransport FailureKind = "transport"
	FailureExchange  FailureKind = "exchange"
)

// RequestFailure is what the REST layer returns instead of a response body.
type RequestFailure struct {
	Exchange   string
	Method     string
	Endpoint   string
	Kind       FailureKind
	StatusCode int
	Body       string
	Err        error
}

func (f *RequestFailure) Error() string {
	if f.Kind == FailureExchange {
		return fmt.Sprintf("%s %s %s: status %d: %s", f.Exchange, f.Method, f.Endpoint, f.StatusCode, f.Body)
	}
	return fmt.Sprintf("%s %s %s: %v", f.Exchange, f.Method, f.Endpoint, f.Err)
}

func (f *RequestFailure) Unwrap() error { return f.Err }

func (f *RequestFailure) Is(target error) bool {
	switch target {
	case ErrTransport:
		return f.Kind == FailureTransport
	case ErrExchange:
		return f.Kind == FailureExchange
	}
	return false
}

package feed

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies feed failures.
type Kind string

const (
	KindTransport Kind = "transport" // dial, TLS, timeout, reset
	KindStatus    Kind = "status"    // non-success HTTP response
	KindMalformed Kind = "malformed" // body is not a valid feature collection
)

// Error is returned by Fetch for every upstream failure.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int // set for KindStatus
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("feed %s: HTTP %d from %s", e.Kind, e.StatusCode, e.URL)
	default:
		return fmt.Sprintf("feed %s: %s: %v", e.Kind, e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
// Transport failures, 5xx and 429 are retryable; malformed bodies and
// other 4xx responses are not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport:
		return true
	case KindStatus:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// IsKind reports whether err is a feed *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// IsFeedError reports whether err originated in the feed client.
func IsFeedError(err error) bool {
	var fe *Error
	return errors.As(err, &fe)
}

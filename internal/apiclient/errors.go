package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind says what a caller should do about a failed request.
type Kind int

const (
	// KindTransient failures may succeed later: network errors, 5xx, 408,
	// 429 and responses that could not be decoded.
	KindTransient Kind = iota
	// KindInvalid failures will fail again with the same input.
	KindInvalid
	// KindUnauthorized failures need the user to sign in again.
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindInvalid:
		return "invalid"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a failed API call. Status is 0 when no response arrived.
type Error struct {
	Status  int
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Status == 0:
		return e.Message
	default:
		return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps an HTTP status to a Kind.
func Classify(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return KindTransient
	case status >= 400:
		return KindInvalid
	default:
		return KindTransient
	}
}

func kindOf(err error) (Kind, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err is worth retrying. Errors that did not
// come from this package are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	kind, ok := kindOf(err)
	return !ok || kind == KindTransient
}

func IsInvalid(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindInvalid
}

func IsUnauthorized(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindUnauthorized
}

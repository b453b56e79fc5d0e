package vrchat

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrForbidden means the API rejected the credentials. Never retry it.
	ErrForbidden = errors.New("forbidden: credentials rejected")

	// ErrTransient covers timeouts, connection failures, 429 and 5xx.
	ErrTransient = errors.New("transient network error")

	// ErrUnexpectedStatus is any other non-2xx response.
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrDecode means the response body was not JSON.
	ErrDecode = errors.New("decode response")
)

// Kind names err for metrics labels.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrUnexpectedStatus):
		return "status"
	case errors.Is(err, ErrDecode):
		return "decode"
	}
	return "other"
}

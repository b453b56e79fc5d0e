package tabular

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrUnavailable wraps every failure of the durable backend.
	ErrUnavailable = errors.New("persistence unavailable")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrRowIndex is returned by Set for an index outside the table.
	ErrRowIndex = errors.New("row index out of range")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

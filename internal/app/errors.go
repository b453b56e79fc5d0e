package service

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrNoQuery is returned when a fetch names neither keyword nor user.
	ErrNoQuery = errors.New("query needs a keyword or a user id")

	// ErrNoUploadEndpoint is returned by Upload when none is configured.
	ErrNoUploadEndpoint = errors.New("no upload endpoint configured")

	// ErrUnknownSource is returned by RunSource for a missing source name.
	ErrUnknownSource = errors.New("unknown source")
)

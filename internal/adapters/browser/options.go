package browser

import (
	"strings"
	"time"

	"github.com/okian/worldwatch/pkg/logger"
)

// Option configures an OwnerListing.
type Option func(*OwnerListing)

// WithWebBase overrides the site root hosting profile pages.
func WithWebBase(u string) Option {
	return func(o *OwnerListing) {
		if u != "" {
			o.webBase = strings.TrimRight(u, "/")
		}
	}
}

// WithMaxClicks caps how often the reveal control is clicked.
func WithMaxClicks(n int) Option {
	return func(o *OwnerListing) {
		if n >= 0 {
			o.maxClicks = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *OwnerListing) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock sets the source of FetchedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(o *OwnerListing) {
		if now != nil {
			o.now = now
		}
	}
}

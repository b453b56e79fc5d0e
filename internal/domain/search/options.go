package search

import (
	"time"

	"github.com/okian/worldwatch/pkg/logger"
)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLimit overrides the per-keyword result cap.
func WithLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.limit = n
		}
	}
}

// WithDelay sets the pause between pages of one keyword.
func WithDelay(d time.Duration) Option {
	return func(a *Aggregator) {
		if d >= 0 {
			a.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

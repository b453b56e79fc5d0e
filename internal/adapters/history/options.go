package history

import (
	"time"

	"github.com/okian/worldwatch/pkg/logger"
)

// Option configures a Store.
type Option func(*Store)

// WithThrottle sets the minimum spacing of records per world.
func WithThrottle(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.throttle = d
		}
	}
}

// WithClock sets the source of record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSinks registers sinks for appended rows.
func WithSinks(sinks ...Sink) Option {
	return func(s *Store) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

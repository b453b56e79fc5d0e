package service

import (
	"context"
	"time"

	"github.com/okian/worldwatch/internal/adapters/dailystats"
	"github.com/okian/worldwatch/internal/adapters/history"
	"github.com/okian/worldwatch/internal/adapters/tabular"
	"github.com/okian/worldwatch/internal/config"
	"github.com/okian/worldwatch/internal/domain/world"
	"github.com/okian/worldwatch/pkg/logger"
)

// Uploader posts snapshots somewhere.
type Uploader interface {
	Upload(ctx context.Context, snapshots []world.Snapshot) error
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithKeywordFetcher sets the keyword search strategy.
func WithKeywordFetcher(f Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.keyword = f
		}
	}
}

// WithOwnerFetcher sets the API owner listing strategy.
func WithOwnerFetcher(f Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.owner = f
		}
	}
}

// WithBrowserFetcher sets the browser owner listing strategy.
func WithBrowserFetcher(f Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.browser = f
		}
	}
}

// WithHistory sets the history store.
func WithHistory(h *history.Store) Option {
	return func(s *Service) {
		if h != nil {
			s.history = h
		}
	}
}

// WithDailyStats sets the daily stats aggregator.
func WithDailyStats(d *dailystats.Aggregator) Option {
	return func(s *Service) {
		if d != nil {
			s.daily = d
		}
	}
}

// WithTables sets the store used for per-source world sheets.
func WithTables(t tabular.Store) Option {
	return func(s *Service) {
		if t != nil {
			s.tables = t
		}
	}
}

// WithUploader enables Upload.
func WithUploader(u Uploader) Option {
	return func(s *Service) {
		if u != nil {
			s.uploader = u
		}
	}
}

// WithSources sets the named crawl sources.
func WithSources(src map[string]config.Source) Option {
	return func(s *Service) {
		s.sources = src
	}
}

// WithBlacklist sets keywords skipped by source crawls.
func WithBlacklist(words []string) Option {
	return func(s *Service) {
		s.blacklist = words
	}
}

// WithRetry shapes retries of transient fetch failures. attempts counts
// the first try; backoff grows linearly per attempt.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.retryAttempts = attempts
		}
		if backoff >= 0 {
			s.retryBackoff = backoff
		}
	}
}

// WithFetchDefaults sets limits and page delay used by source crawls.
func WithFetchDefaults(limit, fixedLimit int, delay time.Duration) Option {
	return func(s *Service) {
		if limit > 0 {
			s.fetchLimit = limit
		}
		if fixedLimit > 0 {
			s.fixedLimit = fixedLimit
		}
		if delay >= 0 {
			s.fetchDelay = delay
		}
	}
}

// WithClock sets the reference clock for derived rows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCloser registers a cleanup run by Close.
func WithCloser(fn func() error) Option {
	return func(s *Service) {
		if fn != nil {
			s.closers = append(s.closers, fn)
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

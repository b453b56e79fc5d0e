// Package service orchestrates fetching, history, daily stats and uploads
// for worldwatch. It is the single entry point used by the CLI and the HTTP
// API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/worldwatch/internal/adapters/dailystats"
	"github.com/okian/worldwatch/internal/adapters/history"
	"github.com/okian/worldwatch/internal/adapters/tabular"
	"github.com/okian/worldwatch/internal/adapters/vrchat"
	"github.com/okian/worldwatch/internal/config"
	"github.com/okian/worldwatch/internal/domain/derive"
	"github.com/okian/worldwatch/internal/domain/search"
	"github.com/okian/worldwatch/internal/domain/world"
	"github.com/okian/worldwatch/pkg/logger"
	"github.com/okian/worldwatch/pkg/metrics"
)

// Default retry policy for transient fetch failures.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = 2 * time.Second
)

// SourceTableSuffix follows the sanitised source name of per-source sheets.
const SourceTableSuffix = "_worlds"

// Fetcher is a single fetch strategy.
type Fetcher = vrchat.Fetcher

// Query selects a fetch strategy. Keyword wins over UserID; Browser picks
// the browser owner listing when one is configured.
type Query struct {
	Keyword string
	UserID  string
	Browser bool
}

// SourceResult summarises one source of a crawl run.
type SourceResult struct {
	Name   string         `json:"name"`
	Worlds int            `json:"worlds"`
	Daily  dailystats.Row `json:"daily"`
	Err    string         `json:"error,omitempty"`
}

// RunReport summarises a crawl run.
type RunReport struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Sources    []SourceResult `json:"sources"`
}

// Service wires the fetch strategies to the stores.
type Service struct {
	keyword  Fetcher
	owner    Fetcher
	browser  Fetcher
	history  *history.Store
	daily    *dailystats.Aggregator
	tables   tabular.Store
	uploader Uploader

	sources   map[string]config.Source
	blacklist []string

	retryAttempts int
	retryBackoff  time.Duration
	fetchLimit    int
	fixedLimit    int
	fetchDelay    time.Duration

	now     func() time.Time
	closers []func() error
	logger  logger.Logger

	mu      sync.Mutex
	lastRun *RunReport
	runs    int
}

// New creates a new Service. Strategies default to the public API client
// and storage defaults to the no-op store.
func New(opts ...Option) *Service {
	nop := tabular.NewNopStore()
	client := vrchat.NewClient()
	s := &Service{
		keyword:       vrchat.NewKeywordStrategy(client),
		owner:         vrchat.NewOwnerStrategy(client),
		history:       history.NewStore(nop),
		daily:         dailystats.NewAggregator(nop),
		tables:        nop,
		retryAttempts: DefaultRetryAttempts,
		retryBackoff:  DefaultRetryBackoff,
		fetchLimit:    search.DefaultLimit,
		fixedLimit:    search.DefaultLimit,
		fetchDelay:    time.Second,
		now:           time.Now,
		logger:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchWorlds runs the strategy selected by q. Transient failures are
// retried as a whole with linear backoff; anything else is returned at once.
func (s *Service) FetchWorlds(ctx context.Context, q Query, limit int, delay time.Duration, headers http.Header) ([]world.Snapshot, error) {
	var (
		f   Fetcher
		arg string
	)
	switch {
	case q.Keyword != "":
		f, arg = s.keyword, q.Keyword
	case q.UserID != "" && q.Browser && s.browser != nil:
		f, arg = s.browser, q.UserID
	case q.UserID != "":
		if q.Browser {
			s.logger.Warn(ctx, "browser listing not configured, using api", logger.String("user", q.UserID))
		}
		f, arg = s.owner, q.UserID
	default:
		return nil, fmt.Errorf("fetch worlds: %w", ErrNoQuery)
	}

	out, err := s.retry(ctx, func() ([]world.Snapshot, error) {
		return f.Fetch(ctx, arg, limit, delay, headers)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch worlds: %w", err)
	}
	return out, nil
}

// SearchFixed searches every keyword outside blacklist with the fixed
// per-keyword limit and merges the results first-wins by id.
func (s *Service) SearchFixed(ctx context.Context, keywords string, headers http.Header, blacklist []string) ([]world.Snapshot, error) {
	return s.searchFixed(ctx, keywords, s.fixedLimit, headers, blacklist)
}

func (s *Service) searchFixed(ctx context.Context, keywords string, limit int, headers http.Header, blacklist []string) ([]world.Snapshot, error) {
	agg := search.NewAggregator(
		retrying{svc: s, f: s.keyword},
		search.WithLimit(limit),
		search.WithDelay(s.fetchDelay),
		search.WithLogger(s.logger.Named("search")),
	)
	out, err := agg.SearchFixed(ctx, keywords, headers, blacklist)
	if err != nil {
		return nil, fmt.Errorf("search fixed: %w", err)
	}
	return out, nil
}

// DeriveRow computes the metrics row of one snapshot.
func (s *Service) DeriveRow(snap world.Snapshot, now time.Time) derive.Row {
	return derive.DeriveRow(snap, now)
}

// LoadHistory returns every world's recorded time series.
func (s *Service) LoadHistory(ctx context.Context) map[string][]history.Record {
	return s.history.Load(ctx)
}

// History returns one world's time series.
func (s *Service) History(ctx context.Context, id string) []history.Record {
	return s.history.Get(ctx, id)
}

// UpdateHistory appends throttled records for snapshots.
func (s *Service) UpdateHistory(ctx context.Context, snapshots []world.Snapshot) map[string][]history.Record {
	return s.history.Update(ctx, snapshots)
}

// UpdateDailyStats upserts today's row for source.
func (s *Service) UpdateDailyStats(ctx context.Context, source string, snapshots []world.Snapshot) dailystats.Row {
	return s.daily.Update(ctx, source, snapshots)
}

// DailyStats returns every stored row of source.
func (s *Service) DailyStats(ctx context.Context, source string) ([]dailystats.Row, error) {
	return s.daily.Rows(ctx, source)
}

// Sources returns the configured source names in order.
func (s *Service) Sources() []string {
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RunSources crawls every configured source in name order. A forbidden
// response stops the run since every later source would fail the same way;
// other failures are collected and the run continues.
func (s *Service) RunSources(ctx context.Context, headers http.Header) (RunReport, error) {
	report := RunReport{
		ID:        uuid.NewString(),
		StartedAt: s.now(),
	}
	log := s.logger.Named("run")
	log.Info(ctx, "run started", logger.String("run_id", report.ID), logger.Int("sources", len(s.sources)))

	var errs []error
	for _, name := range s.Sources() {
		res, err := s.RunSource(ctx, name, headers)
		report.Sources = append(report.Sources, res)
		if err == nil {
			continue
		}
		errs = append(errs, err)
		if errors.Is(err, vrchat.ErrForbidden) || ctx.Err() != nil {
			break
		}
	}

	report.FinishedAt = s.now()
	metrics.UpdateLastRun(report.FinishedAt)

	s.mu.Lock()
	s.lastRun = &report
	s.runs++
	s.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		log.Warn(ctx, "run finished with errors", logger.String("run_id", report.ID), logger.Error(err))
	} else {
		log.Info(ctx, "run finished", logger.String("run_id", report.ID),
			logger.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	}
	return report, err
}

// RunSource crawls one named source: fetch, history, the source's world
// sheet and its daily stats row.
func (s *Service) RunSource(ctx context.Context, name string, headers http.Header) (SourceResult, error) {
	res := SourceResult{Name: name}
	src, ok := s.sources[name]
	if !ok {
		err := fmt.Errorf("source %q: %w", name, ErrUnknownSource)
		res.Err = err.Error()
		return res, err
	}

	var (
		worlds []world.Snapshot
		err    error
	)
	switch src.Type {
	case config.SourceKeyword:
		limit := s.fixedLimit
		if src.Limit > 0 {
			limit = src.Limit
		}
		worlds, err = s.searchFixed(ctx, src.Keywords, limit, headers, s.blacklist)
	case config.SourceUser:
		limit := s.fetchLimit
		if src.Limit > 0 {
			limit = src.Limit
		}
		worlds, err = s.FetchWorlds(ctx, Query{UserID: src.UserID, Browser: src.Browser}, limit, s.fetchDelay, headers)
	default:
		err = fmt.Errorf("unsupported source type %q", src.Type)
	}
	if err != nil {
		err = fmt.Errorf("source %q: %w", name, err)
		res.Err = err.Error()
		return res, err
	}

	res.Worlds = len(worlds)
	s.UpdateHistory(ctx, worlds)
	s.appendSheet(ctx, name, worlds)
	res.Daily = s.UpdateDailyStats(ctx, name, worlds)

	s.logger.Info(ctx, "source crawled",
		logger.String("source", name),
		logger.Int("worlds", res.Worlds),
		logger.Int("new_today", res.Daily.NewWorldsToday))
	return res, nil
}

func (s *Service) appendSheet(ctx context.Context, name string, worlds []world.Snapshot) {
	if len(worlds) == 0 {
		return
	}
	table, err := s.tables.Open(ctx, tabular.SanitizeName(name)+SourceTableSuffix, derive.Columns)
	if err != nil {
		metrics.RecordPersistenceUnavailable("sources")
		s.logger.Warn(ctx, "source sheet unavailable", logger.String("source", name), logger.Error(err))
		return
	}
	now := s.now()
	for _, w := range worlds {
		table.Append(s.DeriveRow(w, now).Cells())
	}
	if err := table.Save(ctx); err != nil {
		metrics.RecordPersistenceUnavailable("sources")
		s.logger.Warn(ctx, "source sheet not saved", logger.String("source", name), logger.Error(err))
	}
}

// Upload posts snapshots to the configured endpoint.
func (s *Service) Upload(ctx context.Context, snapshots []world.Snapshot) error {
	if s.uploader == nil {
		return ErrNoUploadEndpoint
	}
	if err := s.uploader.Upload(ctx, snapshots); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

// GetStats returns service statistics.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	worlds := len(s.history.Load(ctx))
	metrics.UpdateHistoryWorlds(worlds)

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]interface{}{
		"history_worlds":  worlds,
		"sources":         s.Sources(),
		"runs":            s.runs,
		"browser_enabled": s.browser != nil,
		"upload_enabled":  s.uploader != nil,
	}
	if s.lastRun != nil {
		stats["last_run"] = *s.lastRun
	}
	return stats
}

// Close releases the stores and any browser.
func (s *Service) Close() error {
	var errs []error
	for _, fn := range slices.Backward(s.closers) {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// retry runs fn until it succeeds, fails with a non-transient error or the
// attempts run out. Attempt n waits n*backoff before running again.
func (s *Service) retry(ctx context.Context, fn func() ([]world.Snapshot, error)) ([]world.Snapshot, error) {
	var err error
	for attempt := 1; ; attempt++ {
		var out []world.Snapshot
		out, err = fn()
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, vrchat.ErrTransient) || attempt >= s.retryAttempts {
			return nil, err
		}

		wait := time.Duration(attempt) * s.retryBackoff
		s.logger.Warn(ctx, "transient fetch failure, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("backoff", wait),
			logger.Error(err))
		metrics.RecordFetchRetry()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// retrying applies the service retry policy to every keyword fetch.
type retrying struct {
	svc *Service
	f   Fetcher
}

func (r retrying) Fetch(ctx context.Context, keyword string, limit int, delay time.Duration, headers http.Header) ([]world.Snapshot, error) {
	return r.svc.retry(ctx, func() ([]world.Snapshot, error) {
		return r.f.Fetch(ctx, keyword, limit, delay, headers)
	})
}

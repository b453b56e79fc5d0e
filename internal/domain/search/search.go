// Package search runs a keyword fetcher over a comma-separated keyword list
// and merges the results first-wins by world id.
package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/worldwatch/internal/domain/dedupe"
	"github.com/okian/worldwatch/internal/domain/world"
	"github.com/okian/worldwatch/pkg/logger"
	"github.com/okian/worldwatch/pkg/metrics"
)

// DefaultLimit is the per-keyword result cap.
const DefaultLimit = 50

// Fetcher fetches up to limit worlds matching one keyword.
type Fetcher interface {
	Fetch(ctx context.Context, keyword string, limit int, delay time.Duration, headers http.Header) ([]world.Snapshot, error)
}

// Aggregator merges keyword searches.
type Aggregator struct {
	fetcher Fetcher
	limit   int
	delay   time.Duration
	log     logger.Logger
}

// NewAggregator returns an Aggregator backed by f.
func NewAggregator(f Fetcher, opts ...Option) *Aggregator {
	a := &Aggregator{
		fetcher: f,
		limit:   DefaultLimit,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SplitKeywords splits on commas, trims and drops empties.
func SplitKeywords(keywords string) []string {
	var out []string
	for _, kw := range strings.Split(keywords, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// SearchFixed fetches every keyword not in blacklist and returns the
// concatenated results with repeated ids removed. The first occurrence of an
// id keeps its position; snapshots without an id are always kept. The first
// fetch error aborts the search.
func (a *Aggregator) SearchFixed(ctx context.Context, keywords string, headers http.Header, blacklist []string) ([]world.Snapshot, error) {
	blocked := make(map[string]struct{}, len(blacklist))
	for _, b := range blacklist {
		blocked[strings.TrimSpace(b)] = struct{}{}
	}

	var all []world.Snapshot
	for _, kw := range SplitKeywords(keywords) {
		if _, skip := blocked[kw]; skip {
			a.log.Debug(ctx, "keyword blacklisted", logger.String("keyword", kw))
			continue
		}
		worlds, err := a.fetcher.Fetch(ctx, kw, a.limit, a.delay, headers)
		if err != nil {
			return nil, fmt.Errorf("keyword %q: %w", kw, err)
		}
		all = append(all, worlds...)
	}

	out, dropped := dedupe.FirstWins(all, func(s world.Snapshot) string { return s.ID })
	if dropped > 0 {
		metrics.RecordDuplicatesDropped(dropped)
		a.log.Debug(ctx, "dropped duplicate worlds", logger.Int("count", dropped))
	}
	return out, nil
}

// Package history keeps an append-only, per-world time series of metric
// snapshots on top of a tabular table, with a throttle window between
// records of the same world.
package history

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/okian/worldwatch/internal/adapters/tabular"
	"github.com/okian/worldwatch/internal/domain/derive"
	"github.com/okian/worldwatch/internal/domain/world"
	"github.com/okian/worldwatch/pkg/logger"
	"github.com/okian/worldwatch/pkg/metrics"
)

// TableName is the table holding every record.
const TableName = "history"

// DefaultThrottle is the minimum spacing of records for one world.
const DefaultThrottle = time.Hour

// Columns is the persisted layout.
var Columns = []string{
	"world_id",
	"timestamp",
	"visits",
	"favorites",
	"heat",
	"popularity",
	"updated_at",
	"publication_date",
	"labs_publication_date",
}

// Record is one point of a world's time series.
type Record struct {
	Timestamp           time.Time  `json:"timestamp"`
	Visits              int        `json:"visits"`
	Favorites           int        `json:"favorites"`
	Heat                int        `json:"heat"`
	Popularity          int        `json:"popularity"`
	UpdatedAt           *time.Time `json:"updatedAt,omitempty"`
	PublicationDate     *time.Time `json:"publicationDate,omitempty"`
	LabsPublicationDate *time.Time `json:"labsPublicationDate,omitempty"`
}

// Sink receives the metrics rows of appended records.
type Sink interface {
	Emit(ctx context.Context, rows []derive.Row) error
}

// Store is the history store. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	tables   tabular.Store
	table    tabular.Table
	records  map[string][]Record
	loaded   bool
	throttle time.Duration
	now      func() time.Time
	sinks    []Sink
	log      logger.Logger
}

// NewStore returns a Store persisting through tables.
func NewStore(tables tabular.Store, opts ...Option) *Store {
	s := &Store{
		tables:   tables,
		records:  map[string][]Record{},
		throttle: DefaultThrottle,
		now:      time.Now,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns every world's records, reading the table on first use. If
// the table cannot be opened the in-memory state is returned as is.
func (s *Store) Load(ctx context.Context) map[string][]Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLoaded(ctx)
	return s.snapshot()
}

// Get returns the records of one world in timestamp order.
func (s *Store) Get(ctx context.Context, id string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLoaded(ctx)
	return slices.Clone(s.records[id])
}

// Update appends a record for every snapshot whose world has no record
// inside the throttle window and whose id is set. The table is saved only
// when something was appended; sinks receive the appended rows.
func (s *Store) Update(ctx context.Context, snapshots []world.Snapshot) map[string][]Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLoaded(ctx)
	now := s.now()

	var (
		rows      []derive.Row
		throttled int
	)
	for _, snap := range snapshots {
		if snap.ID == "" {
			continue
		}
		if list := s.records[snap.ID]; len(list) > 0 {
			last := list[len(list)-1].Timestamp
			if !now.After(last) || now.Sub(last) < s.throttle {
				throttled++
				continue
			}
		}
		rec := recordOf(snap, now)
		s.records[snap.ID] = append(s.records[snap.ID], rec)
		if s.table != nil {
			s.table.Append(encode(snap.ID, rec))
		}
		rows = append(rows, derive.DeriveRow(snap, now))
	}

	metrics.RecordHistoryThrottled(throttled)
	metrics.UpdateHistoryWorlds(len(s.records))
	if len(rows) == 0 {
		return s.snapshot()
	}
	metrics.RecordHistoryAppends(len(rows))

	if s.table != nil {
		if err := s.table.Save(ctx); err != nil {
			s.degraded(ctx, "save history", err)
		}
	}
	for _, sink := range s.sinks {
		if err := sink.Emit(ctx, rows); err != nil {
			s.degraded(ctx, "history sink", err)
		}
	}
	s.log.Info(ctx, "history updated", logger.Int("appended", len(rows)), logger.Int("throttled", throttled))
	return s.snapshot()
}

// ensureLoaded opens the table once. After a failed open the store keeps
// working in memory only.
func (s *Store) ensureLoaded(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true
	t, err := s.tables.Open(ctx, TableName, Columns)
	if err != nil {
		s.degraded(ctx, "open history", err)
		return
	}
	s.table = t

	skipped := 0
	for _, row := range t.Rows() {
		id, rec, ok := decode(row)
		if !ok {
			skipped++
			continue
		}
		s.records[id] = append(s.records[id], rec)
	}
	for id, list := range s.records {
		slices.SortStableFunc(list, func(a, b Record) int { return a.Timestamp.Compare(b.Timestamp) })
		s.records[id] = list
	}
	if skipped > 0 {
		s.log.Warn(ctx, "skipped unreadable history rows", logger.Int("count", skipped))
	}
	metrics.UpdateHistoryWorlds(len(s.records))
}

func (s *Store) degraded(ctx context.Context, op string, err error) {
	metrics.RecordPersistenceUnavailable("history")
	s.log.Warn(ctx, op+" failed; continuing in memory", logger.Error(err))
}

func (s *Store) snapshot() map[string][]Record {
	out := make(map[string][]Record, len(s.records))
	for id, list := range s.records {
		out[id] = slices.Clone(list)
	}
	return out
}

func recordOf(s world.Snapshot, now time.Time) Record {
	return Record{
		Timestamp:           now,
		Visits:              s.Visits,
		Favorites:           s.Favorites,
		Heat:                s.Heat,
		Popularity:          s.Popularity,
		UpdatedAt:           s.UpdatedAt,
		PublicationDate:     s.PublicationDate,
		LabsPublicationDate: s.LabsPublicationDate,
	}
}

func encode(id string, r Record) []string {
	return []string{
		id,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		strconv.Itoa(r.Visits),
		strconv.Itoa(r.Favorites),
		strconv.Itoa(r.Heat),
		strconv.Itoa(r.Popularity),
		formatTime(r.UpdatedAt),
		formatTime(r.PublicationDate),
		formatTime(r.LabsPublicationDate),
	}
}

func decode(row []string) (string, Record, bool) {
	if len(row) < len(Columns) || row[0] == "" {
		return "", Record{}, false
	}
	ts, ok := world.ParseTime(row[1])
	if !ok {
		return "", Record{}, false
	}
	return row[0], Record{
		Timestamp:           ts,
		Visits:              atoi(row[2]),
		Favorites:           atoi(row[3]),
		Heat:                atoi(row[4]),
		Popularity:          atoi(row[5]),
		UpdatedAt:           parseTime(row[6]),
		PublicationDate:     parseTime(row[7]),
		LabsPublicationDate: parseTime(row[8]),
	}, true
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) *time.Time {
	t, ok := world.ParseTime(s)
	if !ok {
		return nil
	}
	return &t
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Package dailystats keeps one summary row per calendar date for every
// named source: how many worlds the run saw and how many were published
// that day.
package dailystats

import (
	"context"
	"strconv"
	"time"

	"github.com/okian/worldwatch/internal/adapters/tabular"
	"github.com/okian/worldwatch/internal/domain/world"
	"github.com/okian/worldwatch/pkg/logger"
	"github.com/okian/worldwatch/pkg/metrics"
)

// DateLayout formats the date column.
const DateLayout = "2006/01/02"

// TablePrefix precedes the sanitised source name.
const TablePrefix = "daily_stats_"

// Columns is the persisted layout.
var Columns = []string{"date", "total_worlds", "new_worlds_today"}

// Row is one day of one source.
type Row struct {
	Date           string `json:"date"`
	TotalWorlds    int    `json:"totalWorlds"`
	NewWorldsToday int    `json:"newWorldsToday"`
}

// Aggregator upserts daily rows.
type Aggregator struct {
	tables tabular.Store
	loc    *time.Location
	now    func() time.Time
	log    logger.Logger
}

// NewAggregator returns an Aggregator persisting through tables.
func NewAggregator(tables tabular.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		tables: tables,
		loc:    time.UTC,
		now:    time.Now,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TableName returns the table holding source's rows.
func TableName(source string) string {
	return TablePrefix + tabular.SanitizeName(source)
}

// Compute summarises snapshots for the date of now in loc. Snapshots
// without a publication date never count as new.
func Compute(snapshots []world.Snapshot, now time.Time, loc *time.Location) Row {
	today := now.In(loc).Format(DateLayout)
	row := Row{Date: today, TotalWorlds: len(snapshots)}
	for _, s := range snapshots {
		if s.PublicationDate != nil && s.PublicationDate.In(loc).Format(DateLayout) == today {
			row.NewWorldsToday++
		}
	}
	return row
}

// Update computes today's row for source and writes it, replacing an
// existing row with the same date. Persistence failures are logged and the
// computed row is still returned.
func (a *Aggregator) Update(ctx context.Context, source string, snapshots []world.Snapshot) Row {
	row := Compute(snapshots, a.now(), a.loc)
	metrics.UpdateDailyStats(source, row.TotalWorlds, row.NewWorldsToday)

	t, err := a.tables.Open(ctx, TableName(source), Columns)
	if err != nil {
		a.degraded(ctx, source, err)
		return row
	}
	defer func() { _ = t.Close() }()

	cells := []string{row.Date, strconv.Itoa(row.TotalWorlds), strconv.Itoa(row.NewWorldsToday)}
	replaced := false
	for i, existing := range t.Rows() {
		if existing[0] == row.Date {
			if err := t.Set(i, cells); err != nil {
				a.degraded(ctx, source, err)
				return row
			}
			replaced = true
			break
		}
	}
	if !replaced {
		t.Append(cells)
	}
	if err := t.Save(ctx); err != nil {
		a.degraded(ctx, source, err)
		return row
	}

	a.log.Info(ctx, "daily stats updated",
		logger.String("source", source),
		logger.String("date", row.Date),
		logger.Int("total", row.TotalWorlds),
		logger.Int("new", row.NewWorldsToday),
		logger.Bool("replaced", replaced),
	)
	return row
}

// Rows returns every stored row of source, oldest first.
func (a *Aggregator) Rows(ctx context.Context, source string) ([]Row, error) {
	t, err := a.tables.Open(ctx, TableName(source), Columns)
	if err != nil {
		return nil, err
	}
	defer func() { _ = t.Close() }()

	raw := t.Rows()
	out := make([]Row, 0, len(raw))
	for _, r := range raw {
		total, _ := strconv.Atoi(r[1])
		fresh, _ := strconv.Atoi(r[2])
		out = append(out, Row{Date: r[0], TotalWorlds: total, NewWorldsToday: fresh})
	}
	return out, nil
}

func (a *Aggregator) degraded(ctx context.Context, source string, err error) {
	metrics.RecordPersistenceUnavailable("daily_stats")
	a.log.Warn(ctx, "daily stats not persisted", logger.String("source", source), logger.Error(err))
}

// Package derive computes the per-world metrics row shown in listings and
// mirrored to tabular sinks.
package derive

import (
	"strconv"
	"time"

	"github.com/okian/worldwatch/internal/domain/world"
)

const day = 24 * time.Hour

// Formats used when a Row is rendered as table cells.
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = time.RFC3339
)

// Columns is the fixed tabular shape of a Row.
var Columns = []string{
	"fetched_at",
	"name",
	"world_id",
	"publication_date",
	"updated_at",
	"visits",
	"capacity",
	"favorites",
	"heat",
	"popularity",
	"days_labs_to_publication",
	"visit_favorite_ratio",
	"days_since_update",
	"days_since_publication",
	"visits_per_day",
}

// Row is a snapshot projected at a reference instant. Nil pointers are
// absent values; present floats are always finite and non-negative.
type Row struct {
	FetchedAt       time.Time
	Name            string
	WorldID         string
	PublicationDate *time.Time
	UpdatedAt       *time.Time
	Visits          int
	Capacity        *int
	Favorites       int
	Heat            int
	Popularity      int

	DaysLabsToPublication *int
	VisitFavoriteRatio    *float64
	DaysSinceUpdate       *int
	DaysSincePublication  int
	VisitsPerDay          *float64
}

// DeriveRow projects s at now. It is total: missing inputs yield absent
// fields, never a division by zero.
func DeriveRow(s world.Snapshot, now time.Time) Row {
	r := Row{
		FetchedAt:       s.FetchedAt,
		Name:            s.Name,
		WorldID:         s.ID,
		PublicationDate: s.PublicationDate,
		UpdatedAt:       s.UpdatedAt,
		Visits:          s.Visits,
		Capacity:        s.Capacity,
		Favorites:       s.Favorites,
		Heat:            s.Heat,
		Popularity:      s.Popularity,
	}

	if s.PublicationDate != nil {
		// Labs date wins; creation date only stands in when labs is missing.
		switch {
		case s.LabsPublicationDate != nil:
			r.DaysLabsToPublication = ptr(days(s.PublicationDate.Sub(*s.LabsPublicationDate)))
		case s.CreatedAt != nil:
			r.DaysLabsToPublication = ptr(days(s.PublicationDate.Sub(*s.CreatedAt)))
		}
		r.DaysSincePublication = max(days(now.Sub(*s.PublicationDate)), 0)
	}

	if s.Favorites > 0 {
		r.VisitFavoriteRatio = ptr(float64(s.Visits) / float64(s.Favorites))
	}
	if s.UpdatedAt != nil {
		r.DaysSinceUpdate = ptr(days(now.Sub(*s.UpdatedAt)))
	}
	if r.DaysSincePublication > 0 {
		r.VisitsPerDay = ptr(float64(s.Visits) / float64(r.DaysSincePublication))
	}
	return r
}

// Cells renders r in Columns order. Absent values are empty strings.
func (r Row) Cells() []string {
	return []string{
		formatTime(&r.FetchedAt, TimestampLayout),
		r.Name,
		r.WorldID,
		formatTime(r.PublicationDate, DateLayout),
		formatTime(r.UpdatedAt, DateLayout),
		strconv.Itoa(r.Visits),
		formatInt(r.Capacity),
		strconv.Itoa(r.Favorites),
		strconv.Itoa(r.Heat),
		strconv.Itoa(r.Popularity),
		formatInt(r.DaysLabsToPublication),
		formatFloat(r.VisitFavoriteRatio),
		formatInt(r.DaysSinceUpdate),
		strconv.Itoa(r.DaysSincePublication),
		formatFloat(r.VisitsPerDay),
	}
}

// days truncates toward zero.
func days(d time.Duration) int {
	return int(d / day)
}

func ptr[T any](v T) *T { return &v }

func formatTime(t *time.Time, layout string) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(layout)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

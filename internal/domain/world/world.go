// Package world holds the canonical World Snapshot and the normalizer that
// builds it from loosely typed API or browser records.
package world

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// LinkBase prefixes a world id to form its public page.
const LinkBase = "https://vrchat.com/home/world/"

// Snapshot is one world's public state at fetch time.
type Snapshot struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Capacity            *int       `json:"capacity,omitempty"`
	CreatedAt           *time.Time `json:"created_at,omitempty"`
	UpdatedAt           *time.Time `json:"updated_at,omitempty"`
	LabsPublicationDate *time.Time `json:"labsPublicationDate,omitempty"`
	PublicationDate     *time.Time `json:"publicationDate,omitempty"`
	Visits              int        `json:"visits"`
	Favorites           int        `json:"favorites"`
	Heat                int        `json:"heat"`
	Popularity          int        `json:"popularity"`
	Tags                []string   `json:"tags,omitempty"`
	FetchedAt           time.Time  `json:"fetchedAt"`
}

// Link returns the public page of the world, or "" when the id is unknown.
func (s Snapshot) Link() string {
	if s.ID == "" {
		return ""
	}
	return LinkBase + s.ID
}

// Normalize maps a raw record onto a Snapshot. Unknown keys are dropped and
// malformed values fall back to their zero value; it never fails.
func Normalize(raw map[string]any, fetchedAt time.Time) Snapshot {
	s := Snapshot{
		ID:         str(raw["id"]),
		Name:       str(raw["name"]),
		Visits:     count(raw["visits"]),
		Favorites:  count(raw["favorites"]),
		Heat:       count(raw["heat"]),
		Popularity: count(raw["popularity"]),
		Tags:       tags(raw["tags"]),
		FetchedAt:  fetchedAt,
	}
	if c, ok := integer(raw["capacity"]); ok && c >= 0 {
		s.Capacity = &c
	}
	s.CreatedAt = timePtr(raw["created_at"])
	s.UpdatedAt = timePtr(raw["updated_at"])
	s.LabsPublicationDate = timePtr(raw["labsPublicationDate"])
	s.PublicationDate = timePtr(raw["publicationDate"])
	return s
}

// ParseTime reads the timestamp shapes the API and older exports produce:
// RFC3339, naive ISO datetimes and dates (UTC assumed), and Unix epoch
// seconds as an integer, float or digit string. "none" and anything else
// unreadable reports ok=false.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return epoch(f)
	case float64:
		return epoch(t)
	case float32:
		return epoch(float64(t))
	case int:
		return epoch(float64(t))
	case int64:
		return epoch(float64(t))
	case string:
		return parseString(t)
	}
	return time.Time{}, false
}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

func parseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return time.Time{}, false
	}
	if isDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return epoch(float64(n))
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func epoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func timePtr(v any) *time.Time {
	t, ok := ParseTime(v)
	if !ok {
		return nil
	}
	return &t
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	}
	return ""
}

// integer accepts JSON numbers in any decoded form and digit strings.
func integer(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return integer(f)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func count(v any) int {
	n, ok := integer(v)
	if !ok || n < 0 {
		return 0
	}
	return n
}

func tags(v any) []string {
	list, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			list = make([]any, len(ss))
			for i, s := range ss {
				list[i] = s
			}
		}
	}
	if len(list) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, item := range list {
		tag := str(item)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

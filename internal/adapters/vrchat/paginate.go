package vrchat

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// PageSize is the largest page the API serves.
const PageSize = 60

// PageFunc requests n records starting at offset. A nil slice with a nil
// error means the endpoint returned something other than a list.
type PageFunc func(ctx context.Context, n, offset int) ([]map[string]any, error)

// Paginate collects up to limit records from page. Each request asks for
// min(PageSize, limit-collected) records at the running offset. The loop
// stops at limit, on a page shorter than requested, or on the first error.
// Consecutive requests are spaced at least delay apart; nothing waits after
// the last page.
func Paginate(ctx context.Context, page PageFunc, limit int, delay time.Duration) ([]map[string]any, error) {
	if limit <= 0 {
		return nil, nil
	}

	lim := rate.NewLimiter(rate.Inf, 1)
	if delay > 0 {
		lim = rate.NewLimiter(rate.Every(delay), 1)
	}

	results := make([]map[string]any, 0, min(limit, PageSize))
	offset := 0
	for len(results) < limit {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		n := min(PageSize, limit-len(results))
		chunk, err := page(ctx, n, offset)
		if err != nil {
			return nil, err
		}
		results = append(results, chunk...)
		offset += len(chunk)
		if len(chunk) < n {
			break
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// records keeps the object elements of a decoded list body.
func records(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

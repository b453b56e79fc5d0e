package vrchat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/worldwatch/internal/domain/world"
	"github.com/okian/worldwatch/pkg/metrics"
)

// Fetcher is one way of listing worlds for a query.
type Fetcher interface {
	Fetch(ctx context.Context, query string, limit int, delay time.Duration, headers http.Header) ([]world.Snapshot, error)
}

// KeywordStrategy pages the world search endpoint.
type KeywordStrategy struct {
	client *Client
}

// NewKeywordStrategy returns a keyword search fetcher.
func NewKeywordStrategy(c *Client) *KeywordStrategy {
	return &KeywordStrategy{client: c}
}

// Fetch searches worlds matching keyword.
func (s *KeywordStrategy) Fetch(ctx context.Context, keyword string, limit int, delay time.Duration, headers http.Header) ([]world.Snapshot, error) {
	base := s.client.baseURL + "/worlds?search=" + url.QueryEscape(keyword)
	return s.client.fetchList(ctx, "keyword", base, limit, delay, headers)
}

// OwnerStrategy pages the per-user world listing.
type OwnerStrategy struct {
	client *Client
}

// NewOwnerStrategy returns an owner listing fetcher.
func NewOwnerStrategy(c *Client) *OwnerStrategy {
	return &OwnerStrategy{client: c}
}

// Fetch lists worlds published by userID.
func (s *OwnerStrategy) Fetch(ctx context.Context, userID string, limit int, delay time.Duration, headers http.Header) ([]world.Snapshot, error) {
	base := s.client.baseURL + "/users/" + url.PathEscape(userID) + "/worlds?"
	return s.client.fetchList(ctx, "owner", base, limit, delay, headers)
}

func (c *Client) fetchList(ctx context.Context, strategy, base string, limit int, delay time.Duration, headers http.Header) ([]world.Snapshot, error) {
	sep := "&"
	if base[len(base)-1] == '?' {
		sep = ""
	}
	page := func(ctx context.Context, n, offset int) ([]map[string]any, error) {
		u := base + sep + "n=" + strconv.Itoa(n) + "&offset=" + strconv.Itoa(offset)
		v, err := c.GetJSON(ctx, strategy, u, headers)
		if err != nil {
			return nil, fmt.Errorf("page at offset %d: %w", offset, err)
		}
		return records(v), nil
	}

	raws, err := Paginate(ctx, page, limit, delay)
	if err != nil {
		return nil, err
	}

	fetchedAt := c.now()
	out := make([]world.Snapshot, len(raws))
	for i, raw := range raws {
		out[i] = world.Normalize(raw, fetchedAt)
	}
	metrics.RecordWorldsFetched(strategy, len(out))
	return out, nil
}

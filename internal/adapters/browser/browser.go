// Package browser lists an owner's worlds by driving a headless Chromium
// session over the public profile page, then resolves every collected id
// against the API detail endpoint.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/worldwatch/internal/adapters/vrchat"
	"github.com/okian/worldwatch/internal/domain/dedupe"
	"github.com/okian/worldwatch/internal/domain/world"
	"github.com/okian/worldwatch/pkg/logger"
	"github.com/okian/worldwatch/pkg/metrics"
)

const strategyName = "browser"

// Card is one world tile on a listing page.
type Card struct {
	ID   string
	Name string
}

// Session is one open browser tab.
type Session interface {
	// Open navigates to pageURL sending headers with every request.
	Open(ctx context.Context, pageURL string, headers http.Header) error
	// ShowMore clicks the reveal control. It reports false when none is left.
	ShowMore(ctx context.Context) (bool, error)
	// Cards returns the world tiles currently rendered.
	Cards(ctx context.Context) ([]Card, error)
	Close() error
}

// SessionFactory opens new sessions.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// Resolver fetches a world's detail record.
type Resolver interface {
	GetWorld(ctx context.Context, id string, headers http.Header) (map[string]any, error)
}

// OwnerListing implements the owner fetch strategy through a browser.
type OwnerListing struct {
	sessions  SessionFactory
	resolver  Resolver
	webBase   string
	maxClicks int
	log       logger.Logger
	now       func() time.Time
}

// NewOwnerListing returns a browser-backed owner fetcher.
func NewOwnerListing(sessions SessionFactory, resolver Resolver, opts ...Option) *OwnerListing {
	o := &OwnerListing{
		sessions:  sessions,
		resolver:  resolver,
		webBase:   "https://vrchat.com",
		maxClicks: 50,
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Fetch collects up to limit worlds owned by userID. Ids that fail to
// resolve are skipped, except for rejected credentials, which abort.
func (o *OwnerListing) Fetch(ctx context.Context, userID string, limit int, delay time.Duration, headers http.Header) ([]world.Snapshot, error) {
	if limit <= 0 {
		return nil, nil
	}
	cards, err := o.collect(ctx, userID, limit, headers)
	if err != nil {
		return nil, err
	}

	lim := rate.NewLimiter(rate.Inf, 1)
	if delay > 0 {
		lim = rate.NewLimiter(rate.Every(delay), 1)
	}

	fetchedAt := o.now()
	out := make([]world.Snapshot, 0, len(cards))
	for _, card := range cards {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		raw, err := o.resolver.GetWorld(ctx, card.ID, headers)
		if err != nil {
			if errors.Is(err, vrchat.ErrForbidden) || ctx.Err() != nil {
				return nil, fmt.Errorf("resolve %s: %w", card.ID, err)
			}
			o.log.Warn(ctx, "skipping unresolved world", logger.String("world", card.ID), logger.Error(err))
			continue
		}
		s := world.Normalize(raw, fetchedAt)
		if s.ID == "" {
			s.ID = card.ID
		}
		if s.Name == "" {
			s.Name = card.Name
		}
		out = append(out, s)
	}
	metrics.RecordWorldsFetched(strategyName, len(out))
	return out, nil
}

func (o *OwnerListing) collect(ctx context.Context, userID string, limit int, headers http.Header) ([]Card, error) {
	s, err := o.sessions.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("browser session: %w", err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			o.log.Debug(ctx, "closing browser session", logger.Error(cerr))
		}
	}()

	pageURL := o.webBase + "/home/user/" + url.PathEscape(userID)
	if err := s.Open(ctx, pageURL, headers); err != nil {
		return nil, fmt.Errorf("open %s: %w", pageURL, err)
	}
	metrics.RecordPageFetched(strategyName)

	var cards []Card
	for clicks := 0; ; clicks++ {
		cards, err = s.Cards(ctx)
		if err != nil {
			return nil, fmt.Errorf("read cards: %w", err)
		}
		cards = uniqueCards(cards)
		if len(cards) >= limit || clicks >= o.maxClicks {
			break
		}
		more, err := s.ShowMore(ctx)
		if err != nil {
			return nil, fmt.Errorf("show more: %w", err)
		}
		if !more {
			break
		}
	}

	if len(cards) > limit {
		cards = cards[:limit]
	}
	o.log.Debug(ctx, "collected world cards", logger.String("user", userID), logger.Int("count", len(cards)))
	return cards, nil
}

// uniqueCards keeps the first tile of every world. A tile usually links the
// world more than once; a later link's name fills an empty one.
func uniqueCards(cards []Card) []Card {
	out, _ := dedupe.FirstWins(cards, func(c Card) string { return c.ID })
	at := make(map[string]int, len(out))
	for i, c := range out {
		at[c.ID] = i
	}
	for _, c := range cards {
		if i := at[c.ID]; out[i].Name == "" && c.Name != "" {
			out[i].Name = c.Name
		}
	}
	return out
}

var worldIDPattern = regexp.MustCompile(`wrld_[0-9A-Za-z-]+`)

// CardFromLink builds a Card from a tile's href and visible text.
func CardFromLink(href, text string) (Card, bool) {
	id := worldIDPattern.FindString(href)
	if id == "" {
		return Card{}, false
	}
	name := strings.TrimSpace(strings.SplitN(strings.TrimSpace(text), "\n", 2)[0])
	return Card{ID: id, Name: name}, true
}

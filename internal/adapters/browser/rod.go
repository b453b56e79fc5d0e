package browser

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/okian/worldwatch/pkg/logger"
)

// Page selectors on the profile listing.
const (
	cardSelector     = `a[href*="/home/world/wrld_"]`
	showMoreSelector = "button"
	// Evaluated as a JavaScript RegExp in the page.
	showMoreText = "/show more/i"
)

const (
	navTimeout   = 30 * time.Second
	settleWindow = 500 * time.Millisecond
)

// RodLauncher starts Chromium on first use, or connects to a remote one,
// and hands out stealth tabs.
type RodLauncher struct {
	remoteURL string
	log       logger.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewRodLauncher returns a launcher. An empty remoteURL launches a local
// headless Chromium.
func NewRodLauncher(remoteURL string, l logger.Logger) *RodLauncher {
	if l == nil {
		l = logger.Nop()
	}
	return &RodLauncher{remoteURL: remoteURL, log: l}
}

// NewSession opens a stealth tab.
func (r *RodLauncher) NewSession(ctx context.Context) (Session, error) {
	b, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	return &rodSession{page: page, log: r.log}, nil
}

func (r *RodLauncher) connect(ctx context.Context) (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	wsURL := r.remoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		r.lnch = l
		r.log.Info(ctx, "launched local chromium")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	r.browser = b
	return b, nil
}

// Close shuts the browser down.
func (r *RodLauncher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Kill()
		r.lnch = nil
	}
	return err
}

type rodSession struct {
	page          *rod.Page
	log           logger.Logger
	removeHeaders func()
}

func (s *rodSession) Open(ctx context.Context, pageURL string, headers http.Header) error {
	if dict := flatten(headers); len(dict) > 0 {
		cleanup, err := s.page.SetExtraHeaders(dict)
		if err != nil {
			return fmt.Errorf("browser: set headers: %w", err)
		}
		s.removeHeaders = cleanup
	}

	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	if err := s.page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := s.page.Context(navCtx).WaitLoad(); err != nil {
		s.log.Warn(ctx, "browser: wait load timeout", logger.String("url", pageURL), logger.Error(err))
	}
	return nil
}

func (s *rodSession) ShowMore(ctx context.Context) (bool, error) {
	page := s.page.Context(ctx)
	has, el, err := page.HasR(showMoreSelector, showMoreText)
	if err != nil {
		return false, err
	}
	if !has {
		return false, nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, err
	}
	if err := page.WaitStable(settleWindow); err != nil {
		s.log.Debug(ctx, "browser: page not stable after click", logger.Error(err))
	}
	return true, nil
}

func (s *rodSession) Cards(ctx context.Context) ([]Card, error) {
	els, err := s.page.Context(ctx).Elements(cardSelector)
	if err != nil {
		return nil, err
	}
	cards := make([]Card, 0, len(els))
	for _, el := range els {
		href, err := el.Attribute("href")
		if err != nil || href == nil {
			continue
		}
		text, _ := el.Text()
		if c, ok := CardFromLink(*href, text); ok {
			cards = append(cards, c)
		}
	}
	return cards, nil
}

func (s *rodSession) Close() error {
	if s.removeHeaders != nil {
		s.removeHeaders()
	}
	return s.page.Close()
}

// flatten turns headers into the name/value pairs CDP expects.
func flatten(h http.Header) []string {
	var dict []string
	for k, vs := range h {
		for _, v := range vs {
			dict = append(dict, k, v)
		}
	}
	return dict
}

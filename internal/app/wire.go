package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/okian/worldwatch/internal/adapters/browser"
	"github.com/okian/worldwatch/internal/adapters/dailystats"
	"github.com/okian/worldwatch/internal/adapters/history"
	"github.com/okian/worldwatch/internal/adapters/tabular"
	"github.com/okian/worldwatch/internal/adapters/upload"
	"github.com/okian/worldwatch/internal/adapters/vrchat"
	"github.com/okian/worldwatch/internal/config"
	"github.com/okian/worldwatch/pkg/logger"
)

// Sink table names.
const (
	HistoryLogTable      = "history_log"
	HistoryWorkbookTable = "history_workbook"
)

// FromConfig builds a Service from cfg. A durable store that cannot be
// opened degrades to the no-op store; an unknown backend is an error.
func FromConfig(ctx context.Context, cfg *config.Config, l logger.Logger) (*Service, error) {
	if l == nil {
		l = logger.Nop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}

	tables, err := tabular.Open(ctx, cfg.StorageBackend, cfg.DataDir)
	switch {
	case errors.Is(err, tabular.ErrUnknownBackend):
		return nil, err
	case err != nil:
		l.Warn(ctx, "storage unavailable, running memory-only",
			logger.String("backend", cfg.StorageBackend),
			logger.Error(err))
		tables = tabular.NewNopStore()
	}

	opts := []Option{
		WithLogger(l.Named("app")),
		WithTables(tables),
		WithCloser(tables.Close),
		WithSources(cfg.Sources),
		WithBlacklist(cfg.Blacklist),
		WithRetry(cfg.RetryAttempts, cfg.RetryBackoff()),
		WithFetchDefaults(cfg.FetchLimit, cfg.FixedLimit, cfg.FetchDelay()),
	}

	client := vrchat.NewClient(
		vrchat.WithBaseURL(cfg.APIBaseURL),
		vrchat.WithTimeout(cfg.RequestTimeout()),
		vrchat.WithLogger(l.Named("vrchat")),
	)
	opts = append(opts,
		WithKeywordFetcher(vrchat.NewKeywordStrategy(client)),
		WithOwnerFetcher(vrchat.NewOwnerStrategy(client)),
	)

	if cfg.BrowserEnabled {
		launcher := browser.NewRodLauncher(cfg.BrowserRemoteURL, l.Named("rod"))
		opts = append(opts,
			WithBrowserFetcher(browser.NewOwnerListing(launcher, client,
				browser.WithWebBase(cfg.WebBaseURL),
				browser.WithMaxClicks(cfg.BrowserMaxClicks),
				browser.WithLogger(l.Named("browser")),
			)),
			WithCloser(launcher.Close),
		)
	}

	var sinks []history.Sink
	if cfg.HistoryLogSink || cfg.HistoryWorkbookSink {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			l.Warn(ctx, "history sinks disabled", logger.String("data_dir", cfg.DataDir), logger.Error(err))
		} else {
			if cfg.HistoryLogSink {
				sinks = appendSink(ctx, l, sinks, tabular.NewCSVStore(cfg.DataDir), HistoryLogTable)
			}
			if cfg.HistoryWorkbookSink {
				sinks = appendSink(ctx, l, sinks, tabular.NewXLSXStore(cfg.DataDir), HistoryWorkbookTable)
			}
		}
	}

	opts = append(opts,
		WithHistory(history.NewStore(tables,
			history.WithThrottle(cfg.HistoryThrottle()),
			history.WithSinks(sinks...),
			history.WithLogger(l.Named("history")),
		)),
		WithDailyStats(dailystats.NewAggregator(tables,
			dailystats.WithLocation(loc),
			dailystats.WithLogger(l.Named("dailystats")),
		)),
	)

	if cfg.UploadEndpoint != "" {
		opts = append(opts, WithUploader(upload.New(cfg.UploadEndpoint,
			upload.WithBasicAuth(cfg.UploadUser, cfg.UploadPass))))
	}

	return New(opts...), nil
}

func appendSink(ctx context.Context, l logger.Logger, sinks []history.Sink, store tabular.Store, name string) []history.Sink {
	sink, err := history.NewTableSink(ctx, store, name)
	if err != nil {
		l.Warn(ctx, "history sink disabled", logger.String("sink", name), logger.Error(err))
		return sinks
	}
	return append(sinks, sink)
}

// Headers returns the request headers for cfg's credentials.
func Headers(cfg *config.Config) http.Header {
	return vrchat.NewHeaders(cfg.Cookie, cfg.Username, cfg.Password)
}

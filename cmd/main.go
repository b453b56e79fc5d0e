package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/worldwatch/internal/adapters/http/api"
	"github.com/okian/worldwatch/internal/adapters/http/swagger"
	app "github.com/okian/worldwatch/internal/app"
	"github.com/okian/worldwatch/internal/config"
	"github.com/okian/worldwatch/internal/domain/derive"
	"github.com/okian/worldwatch/internal/domain/world"
	"github.com/okian/worldwatch/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Exit codes.
const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

const usage = `usage: worldwatch <command> [flags]

commands:
  crawl    run every configured source
  search   search worlds by keyword
  fixed    search a comma-separated keyword list, skipping the blacklist
  user     list the worlds of one user
  upload   fetch by keyword or user and post the result to upload_endpoint
  serve    serve the read API
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// fetchFlags are shared by the commands that print worlds.
type fetchFlags struct {
	limit  int
	delay  time.Duration
	record bool
	json   bool
}

func (f *fetchFlags) bind(fs *flag.FlagSet, cfg *config.Config) {
	fs.IntVar(&f.limit, "limit", cfg.FetchLimit, "maximum number of worlds")
	fs.DurationVar(&f.delay, "delay", cfg.FetchDelay(), "minimum spacing between page requests")
	fs.BoolVar(&f.record, "record", false, "append the results to the history store")
	fs.BoolVar(&f.json, "json", false, "print snapshots as JSON instead of CSV rows")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = io.WriteString(stderr, usage)
		return exitUsage
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return exitFail
	}
	if err := logger.Init(logger.WithWriter(stderr), logger.WithFormat(cfg.LogFormat)); err != nil {
		_, _ = fmt.Fprintf(stderr, "failed to initialize logging: %v\n", err)
		return exitFail
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc, err := app.FromConfig(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to build service", logger.Error(err))
		return exitFail
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn(ctx, "close failed", logger.Error(err))
		}
	}()
	headers := app.Headers(cfg)

	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)

	switch cmd {
	case "crawl":
		if err := fs.Parse(rest); err != nil {
			return exitUsage
		}
		report, err := svc.RunSources(ctx, headers)
		_ = writeJSON(stdout, report)
		if err != nil {
			log.Error(ctx, "crawl failed", logger.Error(err))
			return exitFail
		}
		return exitOK

	case "search", "user", "fixed":
		var (
			ff       fetchFlags
			keyword  = fs.String("keyword", "", "search keyword")
			keywords = fs.String("keywords", "", "comma-separated keywords")
			userID   = fs.String("id", "", "user id")
			browser  = fs.Bool("browser", cfg.BrowserEnabled, "list through the browser")
		)
		ff.bind(fs, cfg)
		if err := fs.Parse(rest); err != nil {
			return exitUsage
		}

		var worlds []world.Snapshot
		switch cmd {
		case "search":
			if *keyword == "" {
				_, _ = io.WriteString(stderr, "search: -keyword is required\n")
				return exitUsage
			}
			worlds, err = svc.FetchWorlds(ctx, app.Query{Keyword: *keyword}, ff.limit, ff.delay, headers)
		case "user":
			if *userID == "" {
				_, _ = io.WriteString(stderr, "user: -id is required\n")
				return exitUsage
			}
			worlds, err = svc.FetchWorlds(ctx, app.Query{UserID: *userID, Browser: *browser}, ff.limit, ff.delay, headers)
		default:
			if *keywords == "" {
				_, _ = io.WriteString(stderr, "fixed: -keywords is required\n")
				return exitUsage
			}
			worlds, err = svc.SearchFixed(ctx, *keywords, headers, cfg.Blacklist)
		}
		if err != nil {
			log.Error(ctx, cmd+" failed", logger.Error(err))
			return exitFail
		}
		if ff.record {
			svc.UpdateHistory(ctx, worlds)
		}
		if ff.json {
			err = writeJSON(stdout, worlds)
		} else {
			err = writeRows(stdout, svc, worlds, time.Now())
		}
		if err != nil {
			log.Error(ctx, "write output", logger.Error(err))
			return exitFail
		}
		return exitOK

	case "upload":
		var (
			keyword = fs.String("keyword", "", "search keyword")
			userID  = fs.String("id", "", "user id")
			limit   = fs.Int("limit", cfg.FetchLimit, "maximum number of worlds")
		)
		if err := fs.Parse(rest); err != nil {
			return exitUsage
		}
		worlds, err := svc.FetchWorlds(ctx, app.Query{Keyword: *keyword, UserID: *userID}, *limit, cfg.FetchDelay(), headers)
		if err == nil {
			err = svc.Upload(ctx, worlds)
		}
		if err != nil {
			log.Error(ctx, "upload failed", logger.Error(err))
			if errors.Is(err, app.ErrNoQuery) {
				return exitUsage
			}
			return exitFail
		}
		log.Info(ctx, "uploaded", logger.Int("worlds", len(worlds)))
		return exitOK

	case "serve":
		addr := fs.String("addr", cfg.Addr, "listen address")
		if err := fs.Parse(rest); err != nil {
			return exitUsage
		}
		if err := serve(ctx, *addr, svc, log); err != nil {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			return exitFail
		}
		return exitOK

	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n%s", cmd, usage)
		return exitUsage
	}
}

func serve(ctx context.Context, addr string, svc *app.Service, log logger.Logger) error {
	mux := http.NewServeMux()
	swagger.Register(mux)
	api.NewServer(svc).Register(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info(ctx, "server stopped")
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRows(w io.Writer, svc *app.Service, worlds []world.Snapshot, now time.Time) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(derive.Columns); err != nil {
		return err
	}
	for _, s := range worlds {
		if err := cw.Write(svc.DeriveRow(s, now).Cells()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

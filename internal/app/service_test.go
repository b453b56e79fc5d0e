package service

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/worldwatch/internal/adapters/dailystats"
	"github.com/okian/worldwatch/internal/adapters/history"
	"github.com/okian/worldwatch/internal/adapters/tabular"
	"github.com/okian/worldwatch/internal/adapters/vrchat"
	"github.com/okian/worldwatch/internal/config"
	"github.com/okian/worldwatch/internal/domain/derive"
	"github.com/okian/worldwatch/internal/domain/world"
)

// scriptedFetcher returns errs in order, then results[arg].
type scriptedFetcher struct {
	errs    []error
	results map[string][]world.Snapshot
	calls   []string
}

func (f *scriptedFetcher) Fetch(_ context.Context, arg string, _ int, _ time.Duration, _ http.Header) ([]world.Snapshot, error) {
	f.calls = append(f.calls, arg)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.results[arg], nil
}

type fakeUploader struct {
	got []world.Snapshot
	err error
}

func (u *fakeUploader) Upload(_ context.Context, s []world.Snapshot) error {
	u.got = s
	return u.err
}

func snaps(ids ...string) []world.Snapshot {
	now := time.Now()
	out := make([]world.Snapshot, len(ids))
	for i, id := range ids {
		out[i] = world.Snapshot{ID: id, Name: "world " + id, Visits: 10, PublicationDate: &now, FetchedAt: now}
	}
	return out
}

func TestFetchWorlds(t *testing.T) {
	Convey("Given a service with scripted fetchers", t, func() {
		ctx := context.Background()
		keyword := &scriptedFetcher{results: map[string][]world.Snapshot{"horror": snaps("wrld_1")}}
		owner := &scriptedFetcher{results: map[string][]world.Snapshot{"usr_1": snaps("wrld_2")}}
		svc := New(WithKeywordFetcher(keyword), WithOwnerFetcher(owner), WithRetry(3, 0))

		Convey("When the query names nothing", func() {
			_, err := svc.FetchWorlds(ctx, Query{}, 10, 0, nil)

			Convey("Then ErrNoQuery is returned", func() {
				So(errors.Is(err, ErrNoQuery), ShouldBeTrue)
			})
		})

		Convey("When both keyword and user are given", func() {
			out, err := svc.FetchWorlds(ctx, Query{Keyword: "horror", UserID: "usr_1"}, 10, 0, nil)

			Convey("Then the keyword strategy wins", func() {
				So(err, ShouldBeNil)
				So(out[0].ID, ShouldEqual, "wrld_1")
				So(owner.calls, ShouldBeEmpty)
			})
		})

		Convey("When the fetch fails transiently twice", func() {
			keyword.errs = []error{vrchat.ErrTransient, vrchat.ErrTransient}
			out, err := svc.FetchWorlds(ctx, Query{Keyword: "horror"}, 10, 0, nil)

			Convey("Then the third attempt succeeds", func() {
				So(err, ShouldBeNil)
				So(out, ShouldHaveLength, 1)
				So(keyword.calls, ShouldHaveLength, 3)
			})
		})

		Convey("When every attempt fails transiently", func() {
			keyword.errs = []error{vrchat.ErrTransient, vrchat.ErrTransient, vrchat.ErrTransient, vrchat.ErrTransient}
			_, err := svc.FetchWorlds(ctx, Query{Keyword: "horror"}, 10, 0, nil)

			Convey("Then the attempts are bounded and the error is wrapped", func() {
				So(keyword.calls, ShouldHaveLength, 3)
				So(errors.Is(err, vrchat.ErrTransient), ShouldBeTrue)
				So(err.Error(), ShouldStartWith, "fetch worlds:")
			})
		})

		Convey("When the fetch is forbidden", func() {
			owner.errs = []error{vrchat.ErrForbidden}
			_, err := svc.FetchWorlds(ctx, Query{UserID: "usr_1"}, 10, 0, nil)

			Convey("Then it is not retried", func() {
				So(errors.Is(err, vrchat.ErrForbidden), ShouldBeTrue)
				So(owner.calls, ShouldHaveLength, 1)
			})
		})

		Convey("When the browser is requested without a browser strategy", func() {
			out, err := svc.FetchWorlds(ctx, Query{UserID: "usr_1", Browser: true}, 10, 0, nil)

			Convey("Then the api owner listing is used", func() {
				So(err, ShouldBeNil)
				So(out[0].ID, ShouldEqual, "wrld_2")
			})
		})

		Convey("When a browser strategy is configured", func() {
			b := &scriptedFetcher{results: map[string][]world.Snapshot{"usr_1": snaps("wrld_3")}}
			svc := New(WithOwnerFetcher(owner), WithBrowserFetcher(b))
			out, err := svc.FetchWorlds(ctx, Query{UserID: "usr_1", Browser: true}, 10, 0, nil)

			Convey("Then it serves browser queries", func() {
				So(err, ShouldBeNil)
				So(out[0].ID, ShouldEqual, "wrld_3")
				So(owner.calls, ShouldBeEmpty)
			})
		})

		Convey("When the context is cancelled during backoff", func() {
			keyword.errs = []error{vrchat.ErrTransient, vrchat.ErrTransient}
			slow := New(WithKeywordFetcher(keyword), WithRetry(3, time.Hour))
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := slow.FetchWorlds(cctx, Query{Keyword: "horror"}, 10, 0, nil)

			Convey("Then the wait is abandoned", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(keyword.calls, ShouldHaveLength, 1)
			})
		})
	})
}

func TestSearchFixed(t *testing.T) {
	Convey("Given keywords with overlapping results", t, func() {
		keyword := &scriptedFetcher{results: map[string][]world.Snapshot{
			"a": snaps("wrld_1", "wrld_2"),
			"b": snaps("wrld_2", "wrld_3"),
			"c": snaps("wrld_9"),
		}}
		svc := New(WithKeywordFetcher(keyword), WithRetry(2, 0))

		Convey("When searching with a blacklist", func() {
			out, err := svc.SearchFixed(context.Background(), "a, b ,c", nil, []string{"c"})

			Convey("Then results merge first-wins and blacklisted words are skipped", func() {
				So(err, ShouldBeNil)
				So(out, ShouldHaveLength, 3)
				So(out[2].ID, ShouldEqual, "wrld_3")
				So(keyword.calls, ShouldResemble, []string{"a", "b"})
			})
		})

		Convey("When a keyword fails transiently once", func() {
			keyword.errs = []error{vrchat.ErrTransient}
			out, err := svc.SearchFixed(context.Background(), "a", nil, nil)

			Convey("Then the keyword is retried", func() {
				So(err, ShouldBeNil)
				So(out, ShouldHaveLength, 2)
				So(keyword.calls, ShouldHaveLength, 2)
			})
		})

		Convey("When a keyword is forbidden", func() {
			keyword.errs = []error{vrchat.ErrForbidden}
			_, err := svc.SearchFixed(context.Background(), "a,b", nil, nil)

			Convey("Then the search aborts", func() {
				So(errors.Is(err, vrchat.ErrForbidden), ShouldBeTrue)
				So(keyword.calls, ShouldHaveLength, 1)
			})
		})
	})
}

func TestRunSources(t *testing.T) {
	Convey("Given two configured sources on a csv store", t, func() {
		ctx := context.Background()
		store := tabular.NewCSVStore(t.TempDir())
		keyword := &scriptedFetcher{results: map[string][]world.Snapshot{
			"cafe": snaps("wrld_1", "wrld_2"),
		}}
		owner := &scriptedFetcher{results: map[string][]world.Snapshot{
			"usr_1": snaps("wrld_2", "wrld_3", "wrld_4"),
		}}
		svc := New(
			WithKeywordFetcher(keyword),
			WithOwnerFetcher(owner),
			WithTables(store),
			WithHistory(history.NewStore(store)),
			WithDailyStats(dailystats.NewAggregator(store)),
			WithRetry(1, 0),
			WithSources(map[string]config.Source{
				"taiwan/cafe": {Type: config.SourceKeyword, Keywords: "cafe"},
				"creator":     {Type: config.SourceUser, UserID: "usr_1"},
			}),
		)

		Convey("When the run completes", func() {
			report, err := svc.RunSources(ctx, nil)

			Convey("Then every source is reported in name order", func() {
				So(err, ShouldBeNil)
				So(report.ID, ShouldNotBeEmpty)
				So(report.Sources, ShouldHaveLength, 2)
				So(report.Sources[0].Name, ShouldEqual, "creator")
				So(report.Sources[0].Worlds, ShouldEqual, 3)
				So(report.Sources[0].Daily.NewWorldsToday, ShouldEqual, 3)
				So(report.Sources[1].Worlds, ShouldEqual, 2)
			})

			Convey("And history tracks every distinct world", func() {
				So(svc.LoadHistory(ctx), ShouldHaveLength, 4)
			})

			Convey("And each source has a sheet and daily stats", func() {
				sheet, err := store.Open(ctx, "taiwan_cafe"+SourceTableSuffix, derive.Columns)
				So(err, ShouldBeNil)
				So(sheet.Len(), ShouldEqual, 2)

				rows, err := svc.DailyStats(ctx, "taiwan/cafe")
				So(err, ShouldBeNil)
				So(rows, ShouldHaveLength, 1)
				So(rows[0].TotalWorlds, ShouldEqual, 2)
			})

			Convey("And the stats reflect the run", func() {
				stats := svc.GetStats(ctx)
				So(stats["runs"], ShouldEqual, 1)
				So(stats["history_worlds"], ShouldEqual, 4)
				So(stats["sources"], ShouldResemble, []string{"creator", "taiwan/cafe"})
				So(stats["last_run"], ShouldHaveSameTypeAs, RunReport{})
			})
		})

		Convey("When the first source is forbidden", func() {
			owner.errs = []error{vrchat.ErrForbidden}
			report, err := svc.RunSources(ctx, nil)

			Convey("Then the run stops there", func() {
				So(errors.Is(err, vrchat.ErrForbidden), ShouldBeTrue)
				So(report.Sources, ShouldHaveLength, 1)
				So(report.Sources[0].Err, ShouldContainSubstring, "creator")
				So(keyword.calls, ShouldBeEmpty)
			})
		})

		Convey("When a source fails for another reason", func() {
			owner.errs = []error{vrchat.ErrUnexpectedStatus}
			report, err := svc.RunSources(ctx, nil)

			Convey("Then the remaining sources still run", func() {
				So(errors.Is(err, vrchat.ErrUnexpectedStatus), ShouldBeTrue)
				So(report.Sources, ShouldHaveLength, 2)
				So(report.Sources[1].Err, ShouldBeEmpty)
			})
		})

		Convey("When an unknown source is run", func() {
			_, err := svc.RunSource(ctx, "missing", nil)

			Convey("Then ErrUnknownSource is returned", func() {
				So(errors.Is(err, ErrUnknownSource), ShouldBeTrue)
			})
		})
	})
}

func TestUpload(t *testing.T) {
	Convey("Given snapshots to upload", t, func() {
		ctx := context.Background()
		data := snaps("wrld_1")

		Convey("When no endpoint is configured", func() {
			err := New().Upload(ctx, data)

			Convey("Then ErrNoUploadEndpoint is returned", func() {
				So(errors.Is(err, ErrNoUploadEndpoint), ShouldBeTrue)
			})
		})

		Convey("When the uploader accepts", func() {
			u := &fakeUploader{}
			So(New(WithUploader(u)).Upload(ctx, data), ShouldBeNil)
			So(u.got, ShouldResemble, data)
		})

		Convey("When the uploader fails", func() {
			boom := errors.New("boom")
			err := New(WithUploader(&fakeUploader{err: boom})).Upload(ctx, data)

			Convey("Then the failure is wrapped", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				So(err.Error(), ShouldStartWith, "upload:")
			})
		})
	})
}

func TestFromConfig(t *testing.T) {
	Convey("Given configuration", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)
		cfg.DataDir = t.TempDir()

		Convey("When the backend is csv with the log sink enabled", func() {
			cfg.StorageBackend = tabular.BackendCSV
			cfg.HistoryLogSink = true
			cfg.UploadEndpoint = "http://127.0.0.1:1/upload"
			svc, err := FromConfig(ctx, cfg, nil)

			Convey("Then a service is built", func() {
				So(err, ShouldBeNil)
				So(svc.GetStats(ctx)["upload_enabled"], ShouldBeTrue)
				So(svc.GetStats(ctx)["browser_enabled"], ShouldBeFalse)
				So(svc.Close(), ShouldBeNil)
			})
		})

		Convey("When sinks are enabled without durable storage and the data dir is missing", func() {
			cfg.StorageBackend = tabular.BackendNone
			cfg.HistoryLogSink = true
			cfg.DataDir = filepath.Join(cfg.DataDir, "nested", "data")
			svc, err := FromConfig(ctx, cfg, nil)
			So(err, ShouldBeNil)

			svc.UpdateHistory(ctx, snaps("wrld_1"))

			Convey("Then the log sink writes under the created dir", func() {
				_, statErr := os.Stat(filepath.Join(cfg.DataDir, HistoryLogTable+".csv"))
				So(statErr, ShouldBeNil)
			})
		})

		Convey("When the backend is unknown", func() {
			cfg.StorageBackend = "parquet"
			_, err := FromConfig(ctx, cfg, nil)

			Convey("Then it fails", func() {
				So(errors.Is(err, tabular.ErrUnknownBackend), ShouldBeTrue)
			})
		})

		Convey("When the timezone is invalid", func() {
			cfg.Timezone = "Mars/Olympus"
			_, err := FromConfig(ctx, cfg, nil)
			So(err, ShouldNotBeNil)
		})

		Convey("When headers are built", func() {
			cfg.Cookie = "auth=abc"
			So(Headers(cfg).Get("Cookie"), ShouldEqual, "auth=abc")
		})
	})
}

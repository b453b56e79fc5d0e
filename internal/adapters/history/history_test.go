package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/worldwatch/internal/adapters/tabular"
	"github.com/okian/worldwatch/internal/domain/derive"
	"github.com/okian/worldwatch/internal/domain/world"
	. "github.com/smartystreets/goconvey/convey"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)}
}

func snap(id string, visits int) world.Snapshot {
	return world.Snapshot{ID: id, Visits: visits}
}

// countingStore wraps a tabular store and counts saves.
type countingStore struct {
	tabular.Store
	saves   int
	openErr error
	saveErr error
}

func (c *countingStore) Open(ctx context.Context, name string, cols []string) (tabular.Table, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	t, err := c.Store.Open(ctx, name, cols)
	if err != nil {
		return nil, err
	}
	return &countingTable{Table: t, store: c}, nil
}

type countingTable struct {
	tabular.Table
	store *countingStore
}

func (c *countingTable) Save(ctx context.Context) error {
	c.store.saves++
	if c.store.saveErr != nil {
		return c.store.saveErr
	}
	return c.Table.Save(ctx)
}

type recordingSink struct {
	batches [][]derive.Row
	err     error
}

func (r *recordingSink) Emit(_ context.Context, rows []derive.Row) error {
	r.batches = append(r.batches, rows)
	return r.err
}

func TestStoreUpdate(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty history store", t, func() {
		clk := newClock()
		backing := &countingStore{Store: tabular.NewNopStore()}
		sink := &recordingSink{}
		s := NewStore(backing, WithClock(clk.now), WithSinks(sink))

		batch := []world.Snapshot{snap("w1", 10), snap("w2", 20), {Name: "no id"}}

		Convey("When updated twice inside the throttle window", func() {
			s.Update(ctx, batch)
			clk.advance(10 * time.Minute)
			got := s.Update(ctx, batch)

			Convey("Then each world has exactly one record", func() {
				So(got, ShouldHaveLength, 2)
				So(got["w1"], ShouldHaveLength, 1)
				So(got["w2"], ShouldHaveLength, 1)
				So(got["w1"][0].Visits, ShouldEqual, 10)
			})

			Convey("Then only the call that appended saved", func() {
				So(backing.saves, ShouldEqual, 1)
			})

			Convey("Then sinks received only the appended rows", func() {
				So(sink.batches, ShouldHaveLength, 1)
				So(sink.batches[0], ShouldHaveLength, 2)
				So(sink.batches[0][0].WorldID, ShouldEqual, "w1")
			})
		})

		Convey("When updated again after the window", func() {
			s.Update(ctx, batch)
			clk.advance(time.Hour)
			got := s.Update(ctx, []world.Snapshot{snap("w1", 15)})

			Convey("Then a second record is appended in time order", func() {
				So(got["w1"], ShouldHaveLength, 2)
				So(got["w1"][1].Visits, ShouldEqual, 15)
				So(got["w1"][1].Timestamp.After(got["w1"][0].Timestamp), ShouldBeTrue)
				So(got["w2"], ShouldHaveLength, 1)
			})
		})

		Convey("When a batch repeats an id", func() {
			got := s.Update(ctx, []world.Snapshot{snap("w1", 1), snap("w1", 2)})

			Convey("Then the first occurrence wins", func() {
				So(got["w1"], ShouldHaveLength, 1)
				So(got["w1"][0].Visits, ShouldEqual, 1)
			})
		})

		Convey("When the clock goes backwards", func() {
			s = NewStore(backing, WithClock(clk.now), WithThrottle(0))
			s.Update(ctx, batch)
			clk.advance(-time.Minute)
			got := s.Update(ctx, batch)

			Convey("Then no out-of-order record is appended", func() {
				So(got["w1"], ShouldHaveLength, 1)
			})
		})

		Convey("When only id-less snapshots arrive", func() {
			got := s.Update(ctx, []world.Snapshot{{Name: "a"}, {Name: "b"}})

			Convey("Then nothing is stored or saved", func() {
				So(got, ShouldBeEmpty)
				So(backing.saves, ShouldEqual, 0)
				So(sink.batches, ShouldBeEmpty)
			})
		})

		Convey("When the caller mutates the returned map", func() {
			got := s.Update(ctx, batch)
			got["w1"][0].Visits = 999
			delete(got, "w2")

			Convey("Then the store is unaffected", func() {
				again := s.Load(ctx)
				So(again["w1"][0].Visits, ShouldEqual, 10)
				So(again, ShouldContainKey, "w2")
			})
		})
	})
}

func TestStorePersistence(t *testing.T) {
	ctx := context.Background()

	Convey("Given a history store on a csv backend", t, func() {
		dir := t.TempDir()
		clk := newClock()
		pub := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)

		s := NewStore(tabular.NewCSVStore(dir), WithClock(clk.now))
		s.Update(ctx, []world.Snapshot{{ID: "w1", Visits: 5, Favorites: 2, Heat: 3, Popularity: 4, PublicationDate: &pub}})
		clk.advance(2 * time.Hour)
		s.Update(ctx, []world.Snapshot{snap("w1", 8), snap("w2", 1)})

		Convey("When a new store loads the same directory", func() {
			loaded := NewStore(tabular.NewCSVStore(dir), WithClock(clk.now)).Load(ctx)

			Convey("Then every record round-trips in order", func() {
				So(loaded, ShouldHaveLength, 2)
				So(loaded["w1"], ShouldHaveLength, 2)
				first := loaded["w1"][0]
				So(first.Timestamp.Equal(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)), ShouldBeTrue)
				So(first.Visits, ShouldEqual, 5)
				So(first.Favorites, ShouldEqual, 2)
				So(first.Heat, ShouldEqual, 3)
				So(first.Popularity, ShouldEqual, 4)
				So(first.PublicationDate.Equal(pub), ShouldBeTrue)
				So(first.UpdatedAt, ShouldBeNil)
				So(loaded["w1"][1].Visits, ShouldEqual, 8)
			})

			Convey("And the throttle applies across restarts", func() {
				again := NewStore(tabular.NewCSVStore(dir), WithClock(clk.now))
				got := again.Update(ctx, []world.Snapshot{snap("w2", 50)})
				So(got["w2"], ShouldHaveLength, 1)
				So(again.Get(ctx, "w2")[0].Visits, ShouldEqual, 1)
			})
		})
	})
}

func TestStoreDegrades(t *testing.T) {
	ctx := context.Background()

	Convey("Given a backend that cannot be opened", t, func() {
		backing := &countingStore{Store: tabular.NewNopStore(), openErr: tabular.ErrUnavailable}
		s := NewStore(backing, WithClock(newClock().now))

		Convey("Then updates still work in memory", func() {
			var got map[string][]Record
			So(func() { got = s.Update(ctx, []world.Snapshot{snap("w1", 1)}) }, ShouldNotPanic)
			So(got["w1"], ShouldHaveLength, 1)
			So(s.Load(ctx)["w1"], ShouldHaveLength, 1)
		})
	})

	Convey("Given a backend whose saves fail and a failing sink", t, func() {
		backing := &countingStore{Store: tabular.NewNopStore(), saveErr: errors.New("disk full")}
		sink := &recordingSink{err: errors.New("sink down")}
		s := NewStore(backing, WithClock(newClock().now), WithSinks(sink))

		got := s.Update(ctx, []world.Snapshot{snap("w1", 1)})

		Convey("Then the update still returns the new state", func() {
			So(got["w1"], ShouldHaveLength, 1)
			So(backing.saves, ShouldEqual, 1)
			So(sink.batches, ShouldHaveLength, 1)
		})
	})
}

func TestTableSink(t *testing.T) {
	ctx := context.Background()

	Convey("Given a table sink on a csv store", t, func() {
		dir := t.TempDir()
		tables := tabular.NewCSVStore(dir)
		sink, err := NewTableSink(ctx, tables, "history_log")
		So(err, ShouldBeNil)

		s := NewStore(tabular.NewNopStore(), WithClock(newClock().now), WithSinks(sink))
		s.Update(ctx, []world.Snapshot{snap("w1", 100), snap("w2", 200)})

		Convey("Then the appended rows land in the log in metrics-row shape", func() {
			tbl, err := tabular.NewCSVStore(dir).Open(ctx, "history_log", derive.Columns)
			So(err, ShouldBeNil)
			rows := tbl.Rows()
			So(rows, ShouldHaveLength, 2)
			So(rows[0][2], ShouldEqual, "w1")
			So(rows[1][5], ShouldEqual, "200")
		})
	})
}

package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/okian/worldwatch/internal/adapters/vrchat"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeSession reveals pages of cards on each ShowMore call.
type fakeSession struct {
	pages   [][]Card
	shown   int
	clicks  int
	opened  string
	headers http.Header
	closed  bool
}

func (f *fakeSession) Open(_ context.Context, u string, h http.Header) error {
	f.opened, f.headers = u, h
	return nil
}

func (f *fakeSession) ShowMore(context.Context) (bool, error) {
	if f.shown+1 >= len(f.pages) {
		return false, nil
	}
	f.shown++
	f.clicks++
	return true, nil
}

func (f *fakeSession) Cards(context.Context) ([]Card, error) {
	var out []Card
	for i := 0; i <= f.shown && i < len(f.pages); i++ {
		out = append(out, f.pages[i]...)
	}
	return out, nil
}

func (f *fakeSession) Close() error { f.closed = true; return nil }

type factory struct{ s *fakeSession }

func (f factory) NewSession(context.Context) (Session, error) { return f.s, nil }

type fakeResolver struct {
	errs  map[string]error
	calls []string
}

func (r *fakeResolver) GetWorld(_ context.Context, id string, _ http.Header) (map[string]any, error) {
	r.calls = append(r.calls, id)
	if err := r.errs[id]; err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "visits": float64(len(r.calls))}, nil
}

func cards(from, to int) []Card {
	var out []Card
	for i := from; i < to; i++ {
		out = append(out, Card{ID: fmt.Sprintf("wrld_%d", i), Name: fmt.Sprintf("World %d", i)})
	}
	return out
}

func TestOwnerListing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	Convey("Given a profile page revealing cards in three steps", t, func() {
		sess := &fakeSession{pages: [][]Card{cards(0, 3), cards(3, 6), cards(6, 8)}}
		res := &fakeResolver{}
		o := NewOwnerListing(factory{sess}, res, WithWebBase("https://example.test/"), WithClock(func() time.Time { return now }))

		Convey("When the limit exceeds the listing", func() {
			got, err := o.Fetch(ctx, "usr_1", 100, 0, http.Header{"Cookie": {"a=b"}})

			Convey("Then every card is revealed and resolved", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 8)
				So(sess.clicks, ShouldEqual, 2)
				So(sess.opened, ShouldEqual, "https://example.test/home/user/usr_1")
				So(sess.headers.Get("Cookie"), ShouldEqual, "a=b")
				So(sess.closed, ShouldBeTrue)
				So(got[0].FetchedAt, ShouldEqual, now)
			})
		})

		Convey("When the limit is reached early", func() {
			got, err := o.Fetch(ctx, "usr_1", 4, 0, nil)

			Convey("Then clicking stops and the result is capped", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 4)
				So(sess.clicks, ShouldEqual, 1)
				So(res.calls, ShouldResemble, []string{"wrld_0", "wrld_1", "wrld_2", "wrld_3"})
			})
		})

		Convey("When the click cap is zero", func() {
			o := NewOwnerListing(factory{sess}, res, WithMaxClicks(0))
			got, err := o.Fetch(ctx, "usr_1", 100, 0, nil)

			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 3)
			So(sess.clicks, ShouldEqual, 0)
		})
	})

	Convey("Given some ids fail to resolve", t, func() {
		sess := &fakeSession{pages: [][]Card{cards(0, 4)}}
		res := &fakeResolver{errs: map[string]error{
			"wrld_1": fmt.Errorf("page: %w", vrchat.ErrTransient),
			"wrld_2": vrchat.ErrUnexpectedStatus,
		}}

		got, err := NewOwnerListing(factory{sess}, res).Fetch(ctx, "usr_1", 10, 0, nil)

		Convey("Then they are skipped", func() {
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 2)
			So(got[0].ID, ShouldEqual, "wrld_0")
			So(got[1].ID, ShouldEqual, "wrld_3")
		})
	})

	Convey("Given the credentials are rejected", t, func() {
		sess := &fakeSession{pages: [][]Card{cards(0, 4)}}
		res := &fakeResolver{errs: map[string]error{"wrld_1": vrchat.ErrForbidden}}

		_, err := NewOwnerListing(factory{sess}, res).Fetch(ctx, "usr_1", 10, 0, nil)

		Convey("Then the fetch aborts with the forbidden error", func() {
			So(errors.Is(err, vrchat.ErrForbidden), ShouldBeTrue)
			So(res.calls, ShouldHaveLength, 2)
		})
	})

	Convey("Given every tile links its world twice", t, func() {
		twice := func(cs []Card) []Card {
			var out []Card
			for _, c := range cs {
				out = append(out, Card{ID: c.ID}, c)
			}
			return out
		}
		sess := &fakeSession{pages: [][]Card{twice(cards(0, 3)), twice(cards(3, 6)), twice(cards(6, 8))}}
		res := &fakeResolver{}

		got, err := NewOwnerListing(factory{sess}, res).Fetch(ctx, "usr_1", 6, 0, nil)

		Convey("Then the limit counts distinct worlds", func() {
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 6)
			So(sess.clicks, ShouldEqual, 1)
			So(res.calls, ShouldResemble, []string{"wrld_0", "wrld_1", "wrld_2", "wrld_3", "wrld_4", "wrld_5"})
		})

		Convey("And the named link fills the card name", func() {
			So(uniqueCards(twice(cards(0, 2))), ShouldResemble, cards(0, 2))
		})
	})

	Convey("Given duplicate cards on the page", t, func() {
		sess := &fakeSession{pages: [][]Card{{{ID: "wrld_a"}, {ID: "wrld_a"}, {ID: "wrld_b", Name: "B"}}}}
		res := &fakeResolver{}

		got, err := NewOwnerListing(factory{sess}, res).Fetch(ctx, "usr_1", 10, 0, nil)

		Convey("Then each id is resolved once and the card name fills gaps", func() {
			So(err, ShouldBeNil)
			So(res.calls, ShouldResemble, []string{"wrld_a", "wrld_b"})
			So(got[1].Name, ShouldEqual, "B")
		})
	})
}

func TestCardFromLink(t *testing.T) {
	Convey("Given tile links", t, func() {
		c, ok := CardFromLink("/home/world/wrld_4cf554b4-430c-4f8f-b53e-1f294eed230b/info", "  Night Market\n12 visits ")
		So(ok, ShouldBeTrue)
		So(c.ID, ShouldEqual, "wrld_4cf554b4-430c-4f8f-b53e-1f294eed230b")
		So(c.Name, ShouldEqual, "Night Market")

		_, ok = CardFromLink("/home/user/usr_1", "x")
		So(ok, ShouldBeFalse)
	})

	Convey("Given headers", t, func() {
		dict := flatten(http.Header{"Cookie": {"a=b"}})
		So(dict, ShouldResemble, []string{"Cookie", "a=b"})
	})
}

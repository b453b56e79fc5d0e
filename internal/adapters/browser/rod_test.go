package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-rod/rod/lib/launcher"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/worldwatch/pkg/logger"
)

// profilePage renders three tiles and a "Show more" button that reveals
// three, then two more before disappearing.
const profilePage = `<!doctype html>
<html><body>
<div id="grid"></div>
<button id="more">Show More</button>
<script>
var next = 0;
var batches = [3, 3, 2];
var step = 0;
function reveal() {
  var grid = document.getElementById('grid');
  for (var i = 0; i < batches[step]; i++, next++) {
    var a = document.createElement('a');
    a.href = '/home/world/wrld_' + next;
    a.textContent = 'World ' + next;
    grid.appendChild(a);
  }
  step++;
  if (step >= batches.length) {
    document.getElementById('more').remove();
  }
}
reveal();
document.getElementById('more').addEventListener('click', reveal);
</script>
</body></html>`

func TestRodSession(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a browser")
	}
	if _, ok := launcher.LookPath(); !ok {
		t.Skip("no Chromium installed")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(profilePage))
	}))
	defer srv.Close()

	l := NewRodLauncher("", logger.Nop())
	defer func() { _ = l.Close() }()

	Convey("Given a stealth tab on a profile listing", t, func() {
		ctx := context.Background()
		s, err := l.NewSession(ctx)
		So(err, ShouldBeNil)
		defer func() { _ = s.Close() }()

		So(s.Open(ctx, srv.URL+"/home/user/usr_1", nil), ShouldBeNil)

		Convey("Then show more reveals tiles until the button is gone", func() {
			first, err := s.Cards(ctx)
			So(err, ShouldBeNil)
			So(first, ShouldHaveLength, 3)
			So(first[0], ShouldResemble, Card{ID: "wrld_0", Name: "World 0"})

			more, err := s.ShowMore(ctx)
			So(err, ShouldBeNil)
			So(more, ShouldBeTrue)
			second, err := s.Cards(ctx)
			So(err, ShouldBeNil)
			So(second, ShouldHaveLength, 6)

			more, err = s.ShowMore(ctx)
			So(err, ShouldBeNil)
			So(more, ShouldBeTrue)

			more, err = s.ShowMore(ctx)
			So(err, ShouldBeNil)
			So(more, ShouldBeFalse)

			all, err := s.Cards(ctx)
			So(err, ShouldBeNil)
			So(all, ShouldHaveLength, 8)
		})
	})
}

package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/chartreport/app/browser"
	"github.com/umputun/chartreport/app/browser/mocks"
)

func TestParseLinks(t *testing.T) {
	base, err := url.Parse("https://chartink.com/screener/my-scan")
	require.NoError(t, err)

	html := `<html><body>
		<a href="/login">login</a>
		<table><tbody>
		<tr><td><a href="/fundamentals/RELIANCE.html">Reliance</a></td></tr>
		<tr><td><a href="/fundamentals/TCS.html">TCS</a></td></tr>
		<tr><td><a href="/fundamentals/RELIANCE.html">Reliance again</a></td></tr>
		<tr><td><a href="https://chartink.com/fundamentals/INFY.html">Infy</a></td></tr>
		<tr><td><a href="/stocks/SBIN.html">already a chart link</a></td></tr>
		</tbody></table></body></html>`

	res := ParseLinks(html, base)
	assert.Equal(t, []string{
		"https://chartink.com/stocks/RELIANCE.html",
		"https://chartink.com/stocks/TCS.html",
		"https://chartink.com/stocks/INFY.html",
	}, res)

	assert.Empty(t, ParseLinks("<html><body>nothing</body></html>", base))
}

// fakeScan emulates a paginated result table driven through the session scripts
type fakeScan struct {
	mu          sync.Mutex
	pages       [][]string // links per page
	idx         int
	stuck       bool // "next" click doesn't change the table
	noRows      bool // first row text is unreadable
	noMarker    bool
	missingNext bool // last page has no next control at all
	clicks      int
}

func (f *fakeScan) html() string {
	var sb strings.Builder
	sb.WriteString("<table><tbody>")
	for _, l := range f.pages[f.idx] {
		sb.WriteString(fmt.Sprintf(`<tr><td><a href="/fundamentals/%s.html">%s</a></td></tr>`, l, l))
	}
	sb.WriteString("</tbody></table>")
	return sb.String()
}

func (f *fakeScan) row() string { return fmt.Sprintf("row-%d", f.idx) }

func (f *fakeScan) session() *mocks.SessionMock {
	return &mocks.SessionMock{
		NavigateFunc: func(ctx context.Context, url string) error { return nil },
		HTMLFunc: func(ctx context.Context) (string, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.html(), nil
		},
		EvalFunc: func(ctx context.Context, expr string, res any) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			last := f.idx == len(f.pages)-1
			switch expr {
			case markerScript:
				*(res.(*bool)) = !f.noMarker
			case nextStateScript:
				if last && f.missingNext {
					*(res.(*nextState)) = nextState{}
					return nil
				}
				*(res.(*nextState)) = nextState{Found: true, Disabled: last}
			case firstRowScript:
				if f.noRows {
					*(res.(*string)) = ""
					return nil
				}
				*(res.(*string)) = f.row()
			case clickNextScript:
				f.clicks++
				if !f.stuck && !last {
					f.idx++
				}
				*(res.(*bool)) = true
			default: // row changed check
				*(res.(*bool)) = expr != rowChangedScript(f.row())
			}
			return nil
		},
	}
}

func fastPaginator() *Paginator {
	return &Paginator{MarkerTimeout: 50 * time.Millisecond, AdvanceTimeout: 30 * time.Millisecond,
		FallbackDelay: time.Millisecond, Poll: time.Millisecond, MaxPages: 50}
}

func TestPaginator_Collect(t *testing.T) {
	fs := &fakeScan{pages: [][]string{{"A", "B", "C"}, {"D", "B", "E"}, {"F"}}}
	sess := fs.session()

	res, err := fastPaginator().Collect(context.Background(), sess, "https://chartink.com/screener/x", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://chartink.com/stocks/A.html", "https://chartink.com/stocks/B.html",
		"https://chartink.com/stocks/C.html", "https://chartink.com/stocks/D.html",
		"https://chartink.com/stocks/E.html", "https://chartink.com/stocks/F.html",
	}, res)
	assert.Equal(t, 2, fs.clicks)
	require.Len(t, sess.NavigateCalls(), 1)
	assert.Equal(t, "https://chartink.com/screener/x", sess.NavigateCalls()[0].URL)
}

func TestPaginator_CollectEdgeCases(t *testing.T) {
	tbl := []struct {
		name   string
		fs     *fakeScan
		want   int
		clicks int
	}{
		{name: "single page, no next control", fs: &fakeScan{pages: [][]string{{"A", "B"}}, missingNext: true},
			want: 2, clicks: 0},
		{name: "stale table stops", fs: &fakeScan{pages: [][]string{{"A"}, {"B"}}, stuck: true}, want: 1, clicks: 1},
		{name: "unreadable rows fall back to delay", fs: &fakeScan{pages: [][]string{{"A"}, {"B"}, {"C"}}, noRows: true},
			want: 3, clicks: 2},
		{name: "page without new links ends", fs: &fakeScan{pages: [][]string{{"A"}, {"A"}, {"C"}}}, want: 1, clicks: 1},
		{name: "empty first page", fs: &fakeScan{pages: [][]string{{}}}, want: 0, clicks: 0},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			res, err := fastPaginator().Collect(context.Background(), tt.fs.session(), "https://chartink.com/s", nil)
			require.NoError(t, err)
			assert.Len(t, res, tt.want)
			assert.Equal(t, tt.clicks, tt.fs.clicks)
		})
	}
}

func TestPaginator_CollectLimits(t *testing.T) {
	pages := [][]string{}
	for i := 0; i < 10; i++ {
		pages = append(pages, []string{fmt.Sprintf("S%d", i)})
	}

	t.Run("max pages", func(t *testing.T) {
		p := fastPaginator()
		p.MaxPages = 3
		res, err := p.Collect(context.Background(), (&fakeScan{pages: pages}).session(), "https://chartink.com/s", nil)
		require.NoError(t, err)
		assert.Len(t, res, 3)
	})

	t.Run("stop func", func(t *testing.T) {
		calls := 0
		stop := func() bool { calls++; return calls >= 2 }
		res, err := fastPaginator().Collect(context.Background(), (&fakeScan{pages: pages}).session(),
			"https://chartink.com/s", stop)
		require.NoError(t, err)
		assert.Len(t, res, 2)
	})
}

func TestPaginator_CollectErrors(t *testing.T) {
	t.Run("bad url", func(t *testing.T) {
		_, err := fastPaginator().Collect(context.Background(), &mocks.SessionMock{}, "not a url", nil)
		require.Error(t, err)
	})

	t.Run("marker never shows", func(t *testing.T) {
		res, err := fastPaginator().Collect(context.Background(), (&fakeScan{pages: [][]string{{"A"}}, noMarker: true}).session(),
			"https://chartink.com/s", nil)
		require.ErrorIs(t, err, browser.ErrTimeout)
		assert.Empty(t, res)
	})

	t.Run("navigation failure", func(t *testing.T) {
		sess := &mocks.SessionMock{NavigateFunc: func(ctx context.Context, url string) error {
			return fmt.Errorf("navigate: %w", browser.ErrSession)
		}}
		_, err := fastPaginator().Collect(context.Background(), sess, "https://chartink.com/s", nil)
		require.ErrorIs(t, err, browser.ErrSession)
	})

	t.Run("session dies mid way, partial result", func(t *testing.T) {
		fs := &fakeScan{pages: [][]string{{"A", "B"}, {"C"}, {"D"}}}
		sess := fs.session()
		htmlCalls := 0
		origHTML := sess.HTMLFunc
		sess.HTMLFunc = func(ctx context.Context) (string, error) {
			htmlCalls++
			if htmlCalls > 1 {
				return "", errors.Join(browser.ErrSession, errors.New("target crashed"))
			}
			return origHTML(ctx)
		}
		res, err := fastPaginator().Collect(context.Background(), sess, "https://chartink.com/s", nil)
		require.ErrorIs(t, err, browser.ErrSession)
		assert.Equal(t, []string{"https://chartink.com/stocks/A.html", "https://chartink.com/stocks/B.html"}, res)
	})
}

func TestNew(t *testing.T) {
	p := New()
	assert.Equal(t, 60*time.Second, p.MarkerTimeout)
	assert.Equal(t, 2*time.Second, p.Settle)
	assert.Equal(t, 3*time.Second, p.FallbackDelay)
	assert.Equal(t, 50, p.MaxPages)
}

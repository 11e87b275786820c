// Package scanner walks the paginated result table of a screener scan and collects the stock page links.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/go-pkgz/lgr"

	"github.com/umputun/chartreport/app/browser"
)

// scripts evaluated in the scan page
const (
	markerScript = `document.evaluate("//*[contains(text(), 'Stock Name')]", document, null, ` +
		`XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue !== null`

	findNextJS = `const findNext = () => {
		const byText = Array.from(document.querySelectorAll('a')).find(a => (a.textContent || '').includes('Next'));
		return byText || document.getElementById('DataTables_Table_0_next');
	};`

	nextStateScript = `(() => {` + findNextJS + `
		const btn = findNext();
		if (!btn) return {found: false, disabled: false};
		const li = btn.closest('li');
		const cls = (btn.className || '') + ' ' + ((li && li.className) || '');
		return {found: true, disabled: cls.includes('disabled') || btn.getAttribute('aria-disabled') === 'true'};
	})()`

	clickNextScript = `(() => {` + findNextJS + `
		const btn = findNext();
		if (!btn) return false;
		btn.scrollIntoView({block: 'center'});
		btn.click();
		return true;
	})()`

	firstRowJS = `(document.querySelector('#DataTables_Table_0 tbody tr') || document.querySelector('table tbody tr'))`

	firstRowScript = `(() => { const r = ` + firstRowJS + `; return r ? (r.innerText || '').trim() : ''; })()`
)

// Paginator collects links from every page of a scan result table
type Paginator struct {
	MarkerTimeout  time.Duration // how long to wait for the result table
	Settle         time.Duration // pause after the table appeared
	AdvanceTimeout time.Duration // how long to wait for the table to change after "next"
	FallbackDelay  time.Duration // fixed pause after "next" when the table content can't be read
	Poll           time.Duration
	MaxPages       int
}

type nextState struct {
	Found    bool `json:"found"`
	Disabled bool `json:"disabled"`
}

// New makes a Paginator with default timings
func New() *Paginator {
	return &Paginator{
		MarkerTimeout:  60 * time.Second,
		Settle:         2 * time.Second,
		AdvanceTimeout: 10 * time.Second,
		FallbackDelay:  3 * time.Second,
		Poll:           250 * time.Millisecond,
		MaxPages:       50,
	}
}

// Collect opens scanURL in the session and returns deduplicated stock page links in discovery order.
// Errors stop the walk; links collected before the error are returned along with it.
// stop is checked between pages and may be nil.
func (p *Paginator) Collect(ctx context.Context, sess browser.Session, scanURL string, stop func() bool) ([]string, error) {
	base, err := url.Parse(scanURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid scan url %q", scanURL)
	}

	if err := sess.Navigate(ctx, scanURL); err != nil {
		return nil, fmt.Errorf("failed to open scan page: %w", err)
	}
	if err := browser.WaitUntil(ctx, sess, markerScript, p.MarkerTimeout, p.Poll); err != nil {
		return nil, fmt.Errorf("scan results not found: %w", err)
	}
	if err := browser.Sleep(ctx, p.Settle); err != nil {
		return nil, err
	}

	res := []string{}
	seen := map[string]bool{}
	for page := 1; ; page++ {
		html, err := sess.HTML(ctx)
		if err != nil {
			return res, fmt.Errorf("failed to read page %d: %w", page, err)
		}
		batch := []string{}
		for _, link := range ParseLinks(html, base) {
			if !seen[link] {
				seen[link] = true
				batch = append(batch, link)
			}
		}
		if len(batch) == 0 {
			log.Printf("[DEBUG] no new links on page %d, done", page)
			break
		}
		res = append(res, batch...)
		log.Printf("[DEBUG] page %d: %d links, %d total", page, len(batch), len(res))

		if stop != nil && stop() {
			log.Printf("[INFO] link collection stopped on page %d", page)
			break
		}
		if p.MaxPages > 0 && page >= p.MaxPages {
			log.Printf("[WARN] page limit %d reached, %d links collected", p.MaxPages, len(res))
			break
		}
		advanced, err := p.next(ctx, sess)
		if err != nil {
			return res, fmt.Errorf("failed to advance from page %d: %w", page, err)
		}
		if !advanced {
			break
		}
	}
	return res, nil
}

// next clicks the "next" control and waits for the table to change.
// Returns false when there is no next page.
func (p *Paginator) next(ctx context.Context, sess browser.Session) (bool, error) {
	var st nextState
	if err := sess.Eval(ctx, nextStateScript, &st); err != nil {
		return false, err
	}
	if !st.Found || st.Disabled {
		log.Printf("[DEBUG] next control found=%v, disabled=%v, last page", st.Found, st.Disabled)
		return false, nil
	}

	var before string
	if err := sess.Eval(ctx, firstRowScript, &before); err != nil {
		if errors.Is(err, browser.ErrSession) {
			return false, err
		}
		before = ""
	}

	var clicked bool
	if err := sess.Eval(ctx, clickNextScript, &clicked); err != nil {
		return false, err
	}
	if !clicked {
		return false, nil
	}

	if before == "" {
		return true, browser.Sleep(ctx, p.FallbackDelay)
	}

	err := browser.WaitUntil(ctx, sess, rowChangedScript(before), p.AdvanceTimeout, p.Poll)
	if errors.Is(err, browser.ErrTimeout) {
		log.Printf("[WARN] result table did not change after next, stop paging")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func rowChangedScript(before string) string {
	quoted, _ := json.Marshal(before) // marshaling a string can't fail
	return `(() => { const r = ` + firstRowJS + `; return !!r && (r.innerText || '').trim() !== ` + string(quoted) + `; })()`
}

// ParseLinks extracts stock page links from a result page. Anchors pointing to a "fundamentals" page are
// rewritten to the matching "stocks" page and resolved against the scheme and host of base.
// Result is deduplicated and keeps document order.
func ParseLinks(html string, base *url.URL) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		log.Printf("[WARN] can't parse result page: %v", err)
		return nil
	}
	root := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}

	res := []string{}
	seen := map[string]bool{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.Contains(href, "fundamentals") {
			return
		}
		ref, err := url.Parse(strings.ReplaceAll(href, "fundamentals", "stocks"))
		if err != nil {
			return
		}
		link := root.ResolveReference(ref).String()
		if seen[link] {
			return
		}
		seen[link] = true
		res = append(res, link)
	})
	return res
}

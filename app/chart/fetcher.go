package chart

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // chart images may come as gif
	_ "image/jpeg"
	"image/png"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/chartreport/app/browser"
	"github.com/umputun/chartreport/app/enums"
)

// ErrSkip marks a chart that could not be captured; the caller moves on to the next one
var ErrSkip = errors.New("chart skipped")

// Record is a captured chart
type Record struct {
	Name  string
	URL   string
	Image image.Image
	PNG   []byte
}

const (
	frameScript = `document.getElementById('ChartImage') !== null`

	imageSrcScript = `(() => {
		const f = document.getElementById('ChartImage');
		const d = f && (f.contentDocument || (f.contentWindow && f.contentWindow.document));
		if (!d || !d.body || !d.body.innerHTML) return '';
		const img = d.getElementById('cross');
		return img ? (img.getAttribute('src') || '') : '';
	})()`

	nameScript = `(() => {
		const h = document.querySelector("h3[style='margin: 0px;margin-left: 5px;font-size:20px']");
		return h ? (h.innerText || '').trim() : '';
	})()`

	updateScript = `(() => {
		const b = document.getElementById('innerb');
		if (!b) return false;
		b.click();
		return true;
	})()`
)

// Fetcher captures chart images from stock pages
type Fetcher struct {
	Settle       time.Duration // pause after page load
	FrameTimeout time.Duration // wait for chart frame after update
	Attempts     int           // image read attempts
	AttemptDelay time.Duration
	Poll         time.Duration
	Container    string // css selector of the element captured in screenshot mode
}

// NewFetcher makes a Fetcher with default timings
func NewFetcher() *Fetcher {
	return &Fetcher{
		Settle:       2 * time.Second,
		FrameTimeout: 10 * time.Second,
		Attempts:     3,
		AttemptDelay: 2 * time.Second,
		Poll:         250 * time.Millisecond,
		Container:    "#ChartImage",
	}
}

// Fetch opens pageURL, applies settings and captures the chart. Page-level problems return ErrSkip,
// a dead session returns an error wrapping browser.ErrSession.
func (f *Fetcher) Fetch(ctx context.Context, sess browser.Session, pageURL string, st Settings) (Record, error) {
	if err := sess.Navigate(ctx, pageURL); err != nil {
		return Record{}, f.classify(ctx, err, "open page")
	}
	if err := browser.Sleep(ctx, f.Settle); err != nil {
		return Record{}, err
	}

	if err := f.apply(ctx, sess, st); err != nil {
		return Record{}, err
	}

	var clicked bool
	if err := sess.Eval(ctx, updateScript, &clicked); err != nil {
		return Record{}, f.classify(ctx, err, "update chart")
	}
	if !clicked {
		return Record{}, fmt.Errorf("%w: update control not found on %s", ErrSkip, pageURL)
	}

	if err := browser.WaitUntil(ctx, sess, frameScript, f.FrameTimeout, f.Poll); err != nil {
		return Record{}, f.classify(ctx, err, "chart frame")
	}

	var data []byte
	var err error
	switch st.Capture {
	case enums.CaptureScreenshot:
		data, err = f.screenshot(ctx, sess)
	default:
		data, err = f.embedded(ctx, sess)
	}
	if err != nil {
		return Record{}, f.classify(ctx, err, "capture chart")
	}

	img, pngData, err := decodeImage(data)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s: %v", ErrSkip, pageURL, err)
	}

	name := "Unknown"
	var label string
	if err := sess.Eval(ctx, nameScript, &label); err != nil {
		if errors.Is(err, browser.ErrSession) {
			return Record{}, err
		}
		log.Printf("[DEBUG] can't read company name on %s: %v", pageURL, err)
	}
	if label != "" {
		name = label
	}
	return Record{Name: name, URL: pageURL, Image: img, PNG: pngData}, nil
}

// apply injects moving averages into the chart form and sets period and range selects.
// Missing controls are logged and ignored, the chart is still taken with page defaults.
func (f *Fetcher) apply(ctx context.Context, sess browser.Session, st Settings) error {
	script, err := fillFormScript(FormData(st.MovingAverages))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSkip, err)
	}
	var formFound bool
	if err := sess.Eval(ctx, script, &formFound); err != nil {
		return f.classify(ctx, err, "fill form")
	}
	if !formFound {
		log.Printf("[WARN] chart settings form not found")
	}

	var applied []bool
	err = sess.Eval(ctx, selectScript(PeriodCode(st.Period), RangeCode(st.Range)), &applied)
	if err != nil && (errors.Is(err, browser.ErrSession) || ctx.Err() != nil) {
		return err
	}
	if err != nil || len(applied) != 2 || !applied[0] || !applied[1] {
		log.Printf("[WARN] can't set period %q or range %q, applied=%v, err=%v", st.Period, st.Range, applied, err)
	}
	return nil
}

// embedded reads the base64 image from the chart frame, retrying while it renders
func (f *Fetcher) embedded(ctx context.Context, sess browser.Session) ([]byte, error) {
	attempts := max(f.Attempts, 1)
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := browser.Sleep(ctx, f.AttemptDelay); err != nil {
				return nil, err
			}
		}
		var src string
		if err := sess.Eval(ctx, imageSrcScript, &src); err != nil {
			if errors.Is(err, browser.ErrSession) || ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		data, err := decodeDataURI(src)
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	return nil, fmt.Errorf("chart image not available after %d attempts: %w", attempts, lastErr)
}

func (f *Fetcher) screenshot(ctx context.Context, sess browser.Session) ([]byte, error) {
	if err := browser.Sleep(ctx, f.AttemptDelay); err != nil {
		return nil, err
	}
	return sess.Screenshot(ctx, f.Container)
}

// classify keeps session and context errors as is and turns the rest into ErrSkip
func (f *Fetcher) classify(ctx context.Context, err error, what string) error {
	if errors.Is(err, browser.ErrSession) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %s: %v", ErrSkip, what, err)
}

func fillFormScript(data map[string]FormField) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("can't encode form data: %w", err)
	}
	return `(() => {
		const data = ` + string(payload) + `;
		const form = document.getElementById('newone3');
		if (!form) return false;
		Object.keys(data).forEach(key => {
			const field = form.querySelector('[name="' + key + '"]');
			const fd = data[key];
			if (!field) return;
			if (fd.type === 'checkbox') { field.checked = !!fd.value; } else { field.value = fd.value; }
		});
		return true;
	})()`, nil
}

func selectScript(period, rng string) string {
	p, _ := json.Marshal(period)
	r, _ := json.Marshal(rng)
	return `(() => {
		const set = (id, v) => {
			const el = document.getElementById(id);
			if (!el) return false;
			el.value = v;
			el.dispatchEvent(new Event('change', {bubbles: true}));
			return el.value === v;
		};
		return [set('ti', ` + string(p) + `), set('d', ` + string(r) + `)];
	})()`
}

// decodeDataURI extracts the payload of a "data:image/...;base64,..." source
func decodeDataURI(src string) ([]byte, error) {
	_, payload, found := strings.Cut(src, ",")
	if !found || payload == "" {
		return nil, errors.New("no inline image data")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("bad base64 image data: %w", err)
	}
	return data, nil
}

// decodeImage decodes any supported image and re-encodes it as a plain non-interlaced PNG
func decodeImage(data []byte) (image.Image, []byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("can't decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, nil, fmt.Errorf("can't encode %s image as png: %w", format, err)
	}
	return img, buf.Bytes(), nil
}

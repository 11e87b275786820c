// Package browser provides headless browser sessions used to drive the screener pages.
// Two engines are supported, chromedp (default) and playwright. Both expose the same small Session
// surface; everything else (waits, clicks, iframe reads) is done with JavaScript evaluated in the page.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/umputun/chartreport/app/enums"
)

// ErrSession is wrapped into errors caused by a dead or unusable browser session.
// Callers treat it as a crash and may relaunch the browser.
var ErrSession = errors.New("browser session failed")

// ErrTimeout is returned by WaitUntil when the condition never became true
var ErrTimeout = errors.New("wait timed out")

// DefaultUserAgent is sent by both engines unless overridden
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/91.0.4472.124 Safari/537.36"

var dockerEnvFile = "/.dockerenv"

//go:generate moq -out mocks/session.go -pkg mocks -skip-ensure -fmt goimports . Session

// Session is a single browser tab owned by one job
type Session interface {
	Navigate(ctx context.Context, url string) error
	// Eval evaluates a JavaScript expression and decodes its JSON result into res. nil res drops the result.
	Eval(ctx context.Context, expr string, res any) error
	HTML(ctx context.Context) (string, error)
	// Screenshot captures the first element matching css selector as PNG
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	Close() error
}

// Launcher starts new browser sessions
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Config defines browser options shared by all engines
type Config struct {
	Engine       enums.Engine
	Headless     bool
	ExecPath     string // browser binary, empty for engine default
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	NavTimeout   time.Duration // page navigation limit
	OpTimeout    time.Duration // limit for a single evaluation or screenshot
}

// NewLauncher makes a launcher for the configured engine
func NewLauncher(cfg Config) (Launcher, error) {
	cfg = cfg.withDefaults()
	switch cfg.Engine {
	case enums.EngineChromedp:
		return &Chromedp{cfg: cfg}, nil
	case enums.EnginePlaywright:
		return &Playwright{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unsupported browser engine %q", cfg.Engine)
	}
}

// DetectHeadless returns true if headless mode was requested explicitly, the process runs in docker,
// or HEADLESS env is set to true
func DetectHeadless(explicit bool) bool {
	if explicit {
		return true
	}
	if _, err := os.Stat(dockerEnvFile); err == nil {
		return true
	}
	return strings.EqualFold(os.Getenv("HEADLESS"), "true")
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.WindowWidth == 0 || c.WindowHeight == 0 {
		c.WindowWidth, c.WindowHeight = 1920, 1080
	}
	if c.NavTimeout == 0 {
		c.NavTimeout = 60 * time.Second
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = 30 * time.Second
	}
	return c
}

// chromeFlags lists command line switches applied by both engines
func (c Config) chromeFlags() map[string]any {
	res := map[string]any{
		"no-sandbox":             true,
		"disable-gpu":            true,
		"disable-dev-shm-usage":  true,
		"disable-blink-features": "AutomationControlled",
		"enable-automation":      false,
	}
	if c.Headless {
		res["disable-extensions"] = true
	}
	return res
}

// WaitUntil polls a boolean JavaScript expression until it returns true, the timeout passes or ctx is done.
// Page-level evaluation errors are treated as "not yet", session errors are returned immediately.
func WaitUntil(ctx context.Context, s Session, expr string, timeout, poll time.Duration) error {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		var ok bool
		err := s.Eval(ctx, expr, &ok)
		if err != nil && errors.Is(err, ErrSession) {
			return err
		}
		if err == nil && ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w after %v: %s", ErrTimeout, timeout, shorten(expr, 80))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sleep pauses for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// opContext derives a context limited by timeout and canceled together with caller
func opContext(base, caller context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(base, timeout)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

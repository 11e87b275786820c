package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	log "github.com/go-pkgz/lgr"
)

// Chromedp launches Chrome through the DevTools protocol
type Chromedp struct {
	cfg Config
}

// Launch starts a new browser process with its own allocator. The session lives until Close or
// until ctx is canceled.
func (c *Chromedp) Launch(ctx context.Context) (Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) { log.Printf("[DEBUG] chromedp: "+format, args...) }))

	// the first Run on a fresh context starts the browser
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w: %w", ErrSession, err)
	}
	log.Printf("[DEBUG] chrome started, headless=%v", c.cfg.Headless)
	return &chromedpSession{ctx: browserCtx, cancel: browserCancel, allocCancel: allocCancel, cfg: c.cfg}, nil
}

func (c *Chromedp) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", c.cfg.Headless), chromedp.UserAgent(c.cfg.UserAgent))

	flags := c.cfg.chromeFlags()
	names := make([]string, 0, len(flags))
	for k := range flags {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}
	if c.cfg.Headless {
		opts = append(opts, chromedp.WindowSize(c.cfg.WindowWidth, c.cfg.WindowHeight))
	}
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}
	return opts
}

type chromedpSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	cfg         Config
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	opCtx, cancel := opContext(s.ctx, ctx, s.cfg.NavTimeout)
	defer cancel()
	return s.wrap("navigate", chromedp.Run(opCtx, chromedp.Navigate(url)))
}

func (s *chromedpSession) Eval(ctx context.Context, expr string, res any) error {
	opCtx, cancel := opContext(s.ctx, ctx, s.cfg.OpTimeout)
	defer cancel()
	return s.wrap("evaluate", chromedp.Run(opCtx, chromedp.Evaluate(expr, res)))
}

func (s *chromedpSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.Eval(ctx, "document.documentElement.outerHTML", &html); err != nil {
		return "", err
	}
	return html, nil
}

func (s *chromedpSession) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	opCtx, cancel := opContext(s.ctx, ctx, s.cfg.OpTimeout)
	defer cancel()
	var buf []byte
	if err := chromedp.Run(opCtx, chromedp.Screenshot(selector, &buf, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return nil, s.wrap("screenshot", err)
	}
	return buf, nil
}

func (s *chromedpSession) Close() error {
	defer s.allocCancel()
	defer s.cancel()
	if s.ctx.Err() != nil {
		return nil
	}
	if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close chrome: %w", err)
	}
	return nil
}

// wrap classifies err. JavaScript exceptions, per-operation timeouts and network errors of the page
// are page-level; everything else means the browser is gone.
func (s *chromedpSession) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrSession, err)
	}
	var exc *runtime.ExceptionDetails
	switch {
	case errors.As(err, &exc):
		return fmt.Errorf("%s: javascript exception: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, chromedp.ErrJSNull), errors.Is(err, chromedp.ErrJSUndefined):
		return fmt.Errorf("%s: %w", op, err)
	case strings.Contains(err.Error(), "net::ERR_"):
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrSession, err)
}

package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	log "github.com/go-pkgz/lgr"
	"github.com/playwright-community/playwright-go"
)

// Playwright launches Chromium through the playwright driver. Each session runs its own driver.
type Playwright struct {
	cfg Config
}

// Launch starts the driver, a browser and a page
func (p *Playwright) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w: %w", ErrSession, err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless:          playwright.Bool(p.cfg.Headless),
		Args:              p.args(),
		IgnoreDefaultArgs: []string{"--enable-automation"},
	}
	if p.cfg.ExecPath != "" {
		launchOpts.ExecutablePath = playwright.String(p.cfg.ExecPath)
	}
	brow, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w: %w", ErrSession, err)
	}

	bctx, err := brow.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(p.cfg.UserAgent),
		Viewport:  &playwright.Size{Width: p.cfg.WindowWidth, Height: p.cfg.WindowHeight},
	})
	if err != nil {
		_ = brow.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w: %w", ErrSession, err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = brow.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to open page: %w: %w", ErrSession, err)
	}
	log.Printf("[DEBUG] playwright chromium started, headless=%v", p.cfg.Headless)
	return &playwrightSession{pw: pw, browser: brow, page: page, cfg: p.cfg}, nil
}

func (p *Playwright) args() []string {
	flags := p.cfg.chromeFlags()
	res := make([]string, 0, len(flags))
	for name, v := range flags {
		switch val := v.(type) {
		case bool:
			if val {
				res = append(res, "--"+name)
			}
		case string:
			res = append(res, fmt.Sprintf("--%s=%s", name, val))
		}
	}
	sort.Strings(res)
	if p.cfg.Headless {
		res = append(res, fmt.Sprintf("--window-size=%d,%d", p.cfg.WindowWidth, p.cfg.WindowHeight))
	}
	return res
}

type playwrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	cfg     Config
}

func (s *playwrightSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(s.cfg.NavTimeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	return s.wrap("navigate", err)
}

func (s *playwrightSession) Eval(ctx context.Context, expr string, res any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := s.page.Evaluate(expr)
	if err != nil {
		return s.wrap("evaluate", err)
	}
	if res == nil {
		return nil
	}
	// round trip through json to match the by-value semantics of the other engine
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("evaluate: can't encode result: %w", err)
	}
	if err := json.Unmarshal(data, res); err != nil {
		return fmt.Errorf("evaluate: can't decode result into %T: %w", res, err)
	}
	return nil
}

func (s *playwrightSession) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := s.page.Content()
	if err != nil {
		return "", s.wrap("content", err)
	}
	return html, nil
}

func (s *playwrightSession) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := s.page.Locator(selector).First().Screenshot(playwright.LocatorScreenshotOptions{
		Timeout: playwright.Float(float64(s.cfg.OpTimeout.Milliseconds())),
		Type:    playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, s.wrap("screenshot", err)
	}
	return buf, nil
}

func (s *playwrightSession) Close() error {
	var errs []error
	if err := s.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := s.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop driver: %w", err))
	}
	return errors.Join(errs...)
}

// wrap marks errors as session failures once the browser is disconnected
func (s *playwrightSession) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if !s.browser.IsConnected() {
		return fmt.Errorf("%s: %w: %w", op, ErrSession, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

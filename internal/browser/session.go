package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/cosmetics-harvester/internal/ratelimit"
	"github.com/maltedev/cosmetics-harvester/internal/scraper"
	"github.com/playwright-community/playwright-go"
)

const collectLinks = `() => Array.from(document.querySelectorAll('a')).map(a => a.href)`

// enabledPoll is how often an attached control is checked for being enabled.
const enabledPoll = 250 * time.Millisecond

var _ scraper.Session = (*Session)(nil)

// Session drives a single page of its own browser. Closing the session
// shuts the browser down.
type Session struct {
	browser *Browser
	page    playwright.Page
	logger  *slog.Logger
}

// Launcher starts one fresh browser per session.
type Launcher struct {
	opts   *Options
	logger *slog.Logger
}

func NewLauncher(opts *Options, logger *slog.Logger) *Launcher {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Launcher{opts: opts, logger: logger}
}

// Launch implements harvest.SessionFactory.
func (l *Launcher) Launch(ctx context.Context) (scraper.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := New(l.opts, l.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scraper.ErrSession, err)
	}

	page, err := b.NewPage()
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("%w: %v", scraper.ErrSession, err)
	}

	return &Session{browser: b, page: page, logger: b.logger}, nil
}

// Navigate loads url and waits for the DOM, retrying failed attempts.
func (s *Session) Navigate(ctx context.Context, url string) error {
	attempts := s.browser.opts.NavigationRetries + 1
	timeout := float64(s.browser.opts.NavigationTimeout.Milliseconds())

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			s.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := ratelimit.Sleep(ctx, time.Duration(i)*time.Second); err != nil {
				return err
			}
		}

		_, err := s.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(timeout),
		})
		if err == nil {
			return nil
		}

		lastErr = err
		s.logger.Warn("navigation failed", "error", err, "attempt", i+1)
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func (s *Session) Execute(ctx context.Context, script string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.page.Evaluate(script); err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	return nil
}

// FindLinks returns the resolved href of every anchor on the page.
func (s *Session) FindLinks(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := s.page.Evaluate(collectLinks)
	if err != nil {
		return nil, fmt.Errorf("failed to collect links: %w", err)
	}
	return toStrings(raw), nil
}

// WaitUntilActionable waits for the control at locator to be visible and
// enabled.
func (s *Session) WaitUntilActionable(ctx context.Context, locator string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	control := s.control(locator)

	if err := control.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		return err
	}

	for {
		enabled, err := control.IsEnabled()
		if err != nil {
			return err
		}
		if enabled {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("control stayed disabled")
		}
		if err := ratelimit.Sleep(ctx, enabledPoll); err != nil {
			return err
		}
	}
}

// Activate clicks the control from script, which works even when an overlay
// covers it.
func (s *Session) Activate(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.control(locator).Evaluate("el => el.click()", nil); err != nil {
		return fmt.Errorf("failed to click %s: %w", locator, err)
	}
	return nil
}

func (s *Session) Close() error {
	var pageErr error
	if s.page != nil {
		pageErr = s.page.Close()
	}
	if err := s.browser.Close(); err != nil {
		return err
	}
	if pageErr != nil {
		return fmt.Errorf("failed to close page: %w", pageErr)
	}
	return nil
}

func (s *Session) control(locator string) playwright.Locator {
	return s.page.Locator("xpath=" + locator).First()
}

func toStrings(raw interface{}) []string {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	links := make([]string, 0, len(items))
	for _, item := range items {
		if href, ok := item.(string); ok && href != "" {
			links = append(links, href)
		}
	}
	return links
}

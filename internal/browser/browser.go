package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/cosmetics-harvester/internal/config"
	"github.com/playwright-community/playwright-go"
)

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless          bool
	Timeout           time.Duration
	NavigationTimeout time.Duration
	NavigationRetries int
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	AcceptLanguage    string
	TimezoneID        string
	Locale            string
	ProxyServer       string
	ExtraHeaders      map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:          true,
		Timeout:           30 * time.Second,
		NavigationTimeout: 30 * time.Second,
		NavigationRetries: 0,
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		AcceptLanguage:    "ru-RU,ru;q=0.9,en;q=0.8",
		TimezoneID:        "Europe/Moscow",
		Locale:            "ru-RU",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		},
	}
}

// OptionsFromConfig builds launch options from the harvester configuration.
func OptionsFromConfig(cfg config.BrowserConfig, crawler config.CrawlerConfig, userAgent string) *Options {
	opts := DefaultOptions()
	opts.Headless = cfg.Headless
	opts.Timeout = cfg.Timeout
	opts.NavigationTimeout = crawler.NavigationTimeout
	opts.NavigationRetries = cfg.NavigationRetries
	opts.ViewportWidth = cfg.ViewportWidth
	opts.ViewportHeight = cfg.ViewportHeight
	opts.AcceptLanguage = cfg.AcceptLanguage
	opts.TimezoneID = cfg.TimezoneID
	opts.Locale = cfg.Locale
	if userAgent != "" {
		opts.UserAgent = userAgent
	}
	if cfg.AcceptLanguage != "" {
		opts.ExtraHeaders["Accept-Language"] = cfg.AcceptLanguage
	}
	return opts
}

func (o *Options) launchArgs() []string {
	return []string{
		"--no-sandbox",
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		"--disable-setuid-sandbox",
		fmt.Sprintf("--window-size=%d,%d", o.ViewportWidth, o.ViewportHeight),
		"--user-agent=" + o.UserAgent,
	}
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args:     opts.launchArgs(),
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	}

	context, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: context,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(b.opts.NavigationTimeout.Milliseconds()))

	return page, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// Install downloads the playwright driver and Chromium.
func Install() error {
	if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	return nil
}

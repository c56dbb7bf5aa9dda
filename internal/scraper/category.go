package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/maltedev/cosmetics-harvester/internal/config"
	"github.com/maltedev/cosmetics-harvester/internal/models"
	"github.com/maltedev/cosmetics-harvester/internal/ratelimit"
	"github.com/maltedev/cosmetics-harvester/internal/storage"
)

const scrollToBottom = "window.scrollTo(0, document.body.scrollHeight);"

// CrawlResult is the outcome of one category crawl. Partial is set when the
// crawl stopped before reaching Target; Reason then says why.
type CrawlResult struct {
	Category   models.CategorySpec
	Target     int
	URLs       []models.ProductURL
	Increments int
	Partial    bool
	Reason     error
}

// CategoryCrawler collects product URLs from an incrementally loaded category listing.
type CategoryCrawler struct {
	site       config.SiteConfig
	cfg        config.CrawlerConfig
	productURL *regexp.Regexp
	logger     *slog.Logger
}

func NewCategoryCrawler(site config.SiteConfig, cfg config.CrawlerConfig, logger *slog.Logger) *CategoryCrawler {
	base := strings.TrimRight(site.URL, "/")
	return &CategoryCrawler{
		site:       site,
		cfg:        cfg,
		productURL: regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `/(\d+)`),
		logger:     logger.With("component", "category_crawler"),
	}
}

// CategoryURL returns the listing page of a category.
func (c *CategoryCrawler) CategoryURL(category models.CategorySpec) string {
	return c.site.CatalogURL + category.Path
}

// IsProductURL reports whether href points at a product detail page.
func (c *CategoryCrawler) IsProductURL(href string) bool {
	return c.productURL.MatchString(href)
}

// Crawl gathers up to min(expected count, cache bound) unique product URLs.
// Failures end the crawl early and return what was collected so far.
func (c *CategoryCrawler) Crawl(ctx context.Context, session Session, category models.CategorySpec) *CrawlResult {
	target := category.Target(c.cfg.MaxCacheValue)
	urls := storage.NewLinkSet(target)
	result := &CrawlResult{Category: category, Target: target}
	logger := c.logger.With("category", category.Path, "target", target)

	finish := func(reason error) *CrawlResult {
		result.URLs = urls.URLs()
		if reason != nil {
			result.Partial = true
			result.Reason = reason
			logger.Warn("category crawl ended early",
				"error", reason,
				"kind", ErrorKind(reason),
				"found", len(result.URLs),
				"increments", result.Increments)
			return result
		}
		logger.Info("category crawl completed", "found", len(result.URLs), "increments", result.Increments)
		return result
	}

	if target < 1 {
		return finish(nil)
	}

	listingURL := c.CategoryURL(category)
	logger.Info("crawling category", "url", listingURL)

	if err := session.Navigate(ctx, listingURL); err != nil {
		return finish(fmt.Errorf("failed to navigate to %s: %w", listingURL, err))
	}

	if err := c.settleAndHarvest(ctx, session, urls); err != nil {
		return finish(err)
	}

	control := c.cfg.FirstLoadMore
	for !urls.Full() {
		if err := session.Execute(ctx, scrollToBottom); err != nil {
			return finish(fmt.Errorf("failed to scroll: %w", err))
		}

		if err := c.settleAndHarvest(ctx, session, urls); err != nil {
			return finish(err)
		}

		if urls.Full() {
			break
		}

		locator := c.cfg.LoadMoreLocator(control)
		if err := session.WaitUntilActionable(ctx, locator, c.cfg.LoadMoreTimeout); err != nil {
			if ctx.Err() != nil {
				return finish(ctx.Err())
			}
			return finish(fmt.Errorf("%w: control %d: %v", ErrLoadMoreTimeout, control, err))
		}

		if err := session.Activate(ctx, locator); err != nil {
			return finish(fmt.Errorf("failed to activate control %d: %w", control, err))
		}

		control++
		result.Increments++
		logger.Debug("loaded more products", "increment", result.Increments, "found", urls.Len())
	}

	return finish(nil)
}

func (c *CategoryCrawler) settleAndHarvest(ctx context.Context, session Session, urls *storage.LinkSet) error {
	if err := ratelimit.Sleep(ctx, c.cfg.SettleWait); err != nil {
		return err
	}

	links, err := session.FindLinks(ctx)
	if err != nil {
		return fmt.Errorf("failed to find links: %w", err)
	}

	for _, href := range links {
		if c.IsProductURL(href) {
			urls.Add(href)
		}
	}
	return nil
}

package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/maltedev/cosmetics-harvester/internal/config"
	"github.com/maltedev/cosmetics-harvester/internal/models"
	"github.com/maltedev/cosmetics-harvester/internal/parser"
)

// maxPageSize bounds how much of a response body is read.
const maxPageSize = 16 << 20

type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeAccepted
	OutcomeFiltered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeFiltered:
		return "filtered"
	default:
		return "failed"
	}
}

// Result is the outcome of fetching one product. Record is set only when
// Outcome is OutcomeAccepted; Err only when it is OutcomeFailed.
type Result struct {
	URL     models.ProductURL
	Record  *models.ProductRecord
	Outcome Outcome
	Err     error
}

// ProductFetcher turns a product URL into a record using the product page
// and its review page.
type ProductFetcher struct {
	client HTTPClient
	site   config.SiteConfig
	cfg    config.FetcherConfig
	logger *slog.Logger
}

func NewProductFetcher(client HTTPClient, site config.SiteConfig, cfg config.FetcherConfig, logger *slog.Logger) *ProductFetcher {
	return &ProductFetcher{
		client: client,
		site:   site,
		cfg:    cfg,
		logger: logger.With("component", "product_fetcher"),
	}
}

// Fetch never fails the caller: every problem is reported through the Result.
func (f *ProductFetcher) Fetch(ctx context.Context, url string) Result {
	record, applicability, err := f.fetch(ctx, url)
	if err != nil {
		f.logger.Warn("failed to fetch product", "url", url, "kind", ErrorKind(err), "error", err)
		return Result{URL: url, Outcome: OutcomeFailed, Err: err}
	}

	if applicability != f.site.FaceMarker {
		f.logger.Debug("product skipped", "url", url, "applicability", applicability)
		return Result{URL: url, Outcome: OutcomeFiltered}
	}

	return Result{URL: url, Record: record, Outcome: OutcomeAccepted}
}

// ReviewURL returns the review page of a product.
func (f *ProductFetcher) ReviewURL(sku int64) string {
	return f.site.ReviewURL + strconv.FormatInt(sku, 10)
}

func (f *ProductFetcher) fetch(ctx context.Context, url string) (*models.ProductRecord, string, error) {
	status, body, err := f.get(ctx, url)
	if err != nil {
		return nil, "", err
	}
	if status != http.StatusOK {
		return nil, "", fmt.Errorf("%w: %s returned status %d", ErrNetwork, url, status)
	}

	doc, err := parser.Parse(body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMarkupMismatch, err)
	}

	sku, err := parser.ExtractSKU(doc.Selection)
	if err != nil {
		return nil, "", err
	}

	price, err := parser.ExtractPrice(doc.Selection)
	if err != nil {
		return nil, "", err
	}

	reviewCount, rating, err := f.fetchReviews(ctx, sku)
	if err != nil {
		return nil, "", err
	}

	region, err := parser.DescriptionRegion(doc.Selection)
	if err != nil {
		return nil, "", err
	}

	applicability, err := parser.ExtractApplicability(region)
	if err != nil {
		return nil, "", err
	}

	composition, err := parser.ExtractComposition(region)
	if err != nil {
		return nil, "", err
	}

	record := models.NewProductRecord(sku, price, rating, reviewCount, composition)
	if problems := record.Validate(); len(problems) > 0 {
		return nil, "", fmt.Errorf("%w: invalid record for %d: %s", ErrMarkupMismatch, sku, strings.Join(problems, "; "))
	}

	return record, applicability, nil
}

// fetchReviews returns zero counts whenever the review page is unavailable;
// a page that loads but does not match is an error, and so is a cancelled ctx.
func (f *ProductFetcher) fetchReviews(ctx context.Context, sku int64) (int, float64, error) {
	reviewURL := f.ReviewURL(sku)

	status, body, err := f.get(ctx, reviewURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, 0, fmt.Errorf("review fetch for %d interrupted: %w", sku, ctxErr)
		}
		f.logger.Debug("review page unavailable", "url", reviewURL, "error", err)
		return 0, 0, nil
	}
	if status != http.StatusOK {
		f.logger.Debug("review page unavailable", "url", reviewURL, "status", status)
		return 0, 0, nil
	}

	doc, err := parser.Parse(body)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrMarkupMismatch, err)
	}

	count, err := parser.ExtractReviewCount(doc.Selection)
	if err != nil {
		return 0, 0, err
	}

	rating, err := parser.ExtractRating(doc.Selection)
	if err != nil {
		return 0, 0, err
	}

	return count, rating, nil
}

func (f *ProductFetcher) get(ctx context.Context, url string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to build request: %v", ErrNetwork, err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to read %s: %v", ErrNetwork, url, err)
	}

	return resp.StatusCode, body, nil
}

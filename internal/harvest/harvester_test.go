package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/cosmetics-harvester/internal/config"
	"github.com/maltedev/cosmetics-harvester/internal/models"
	"github.com/maltedev/cosmetics-harvester/internal/scraper"
	"github.com/maltedev/cosmetics-harvester/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubSession serves a fixed list of links and never has a load-more control.
type stubSession struct {
	links  []string
	closed bool
}

func (s *stubSession) Navigate(context.Context, string) error { return nil }
func (s *stubSession) Execute(context.Context, string) error { return nil }
func (s *stubSession) FindLinks(context.Context) ([]string, error) { return s.links, nil }
func (s *stubSession) Activate(context.Context, string) error { return nil }
func (s *stubSession) WaitUntilActionable(context.Context, string, time.Duration) error {
	return errors.New("no control")
}
func (s *stubSession) Close() error {
	s.closed = true
	return nil
}

type fakeFactory struct {
	mu       sync.Mutex
	failOn   map[int]bool
	calls    int
	sessions []*stubSession
	links    map[int][]string
}

func (f *fakeFactory) Launch(ctx context.Context) (scraper.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := f.calls
	f.calls++
	if f.failOn[call] {
		return nil, errors.New("chromium exited")
	}
	s := &stubSession{links: f.links[call]}
	f.sessions = append(f.sessions, s)
	return s, nil
}

type fakeCrawler struct {
	results map[string]*scraper.CrawlResult
}

func (c *fakeCrawler) Crawl(_ context.Context, _ scraper.Session, category models.CategorySpec) *scraper.CrawlResult {
	if r, ok := c.results[category.Path]; ok {
		return r
	}
	return &scraper.CrawlResult{Category: category}
}

type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]scraper.Result
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) scraper.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetched = append(f.fetched, url)
	if r, ok := f.results[url]; ok {
		r.URL = url
		return r
	}
	return scraper.Result{URL: url, Outcome: scraper.OutcomeFailed, Err: scraper.ErrNetwork}
}

type recordingSink struct {
	name    string
	err     error
	runID   string
	records []models.ProductRecord
	calls   int
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, runID string, records []models.ProductRecord) error {
	s.calls++
	s.runID = runID
	s.records = records
	return s.err
}

func accepted(id int64) scraper.Result {
	return scraper.Result{
		Outcome: scraper.OutcomeAccepted,
		Record:  &models.ProductRecord{ProductID: id, Price: id * 10, Composition: "aqua"},
	}
}

func productURL(id int) string {
	return fmt.Sprintf("https://goldapple.ru/%d-product", id)
}

func TestRunMergesCategoriesAndFetchesEachURLOnce(t *testing.T) {
	crawler := &fakeCrawler{results: map[string]*scraper.CrawlResult{
		"kremy":     {Target: 3, URLs: []string{productURL(1), productURL(2), productURL(3)}},
		"syvorotki": {Target: 3, URLs: []string{productURL(3), productURL(4), productURL(1)}},
	}}
	fetcher := &fakeFetcher{results: map[string]scraper.Result{
		productURL(1): accepted(1),
		productURL(2): {Outcome: scraper.OutcomeFiltered},
		productURL(3): accepted(3),
		productURL(4): {Outcome: scraper.OutcomeFailed, Err: scraper.ErrMarkupMismatch},
	}}
	sink := &recordingSink{name: "memory"}
	factory := &fakeFactory{}

	h := New(factory, crawler, fetcher, []Sink{sink}, Options{
		Categories: []models.CategorySpec{{Path: "kremy", ExpectedCount: 3}, {Path: "syvorotki", ExpectedCount: 3}},
		MaxValue:   100,
	}, nil, discardLogger())

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{productURL(1), productURL(2), productURL(3), productURL(4)}, fetcher.fetched)
	assert.Equal(t, 4, report.URLs)
	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, 2, report.Accepted)
	assert.Equal(t, 1, report.Filtered)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Records)

	require.Len(t, report.Categories, 2)
	assert.Equal(t, 3, report.Categories[0].New)
	assert.Equal(t, 1, report.Categories[1].New)
	assert.Equal(t, 3, report.Categories[1].Discovered)

	require.Len(t, factory.sessions, 2)
	for _, s := range factory.sessions {
		assert.True(t, s.closed, "session left open")
	}

	assert.Equal(t, report.RunID, sink.runID)
	require.Len(t, sink.records, 2)
	assert.Equal(t, int64(1), sink.records[0].ProductID)
	assert.Equal(t, int64(3), sink.records[1].ProductID)
}

func TestRunSkipsCategoryWhenSessionFails(t *testing.T) {
	crawler := &fakeCrawler{results: map[string]*scraper.CrawlResult{
		"kremy": {Target: 1, URLs: []string{productURL(9)}},
		"maski": {Target: 1, URLs: []string{productURL(10)}},
	}}
	fetcher := &fakeFetcher{results: map[string]scraper.Result{productURL(10): accepted(10)}}
	sink := &recordingSink{name: "memory"}

	h := New(&fakeFactory{failOn: map[int]bool{0: true}}, crawler, fetcher, []Sink{sink}, Options{
		Categories: []models.CategorySpec{{Path: "kremy", ExpectedCount: 1}, {Path: "maski", ExpectedCount: 1}},
		MaxValue:   10,
	}, nil, discardLogger())

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Categories, 2)
	assert.True(t, report.Categories[0].Partial)
	assert.Contains(t, report.Categories[0].Error, scraper.ErrSession.Error())
	assert.Equal(t, []string{productURL(10)}, fetcher.fetched)
	assert.Len(t, sink.records, 1)
}

func TestRunCapsTargetOfFailedSessionAtCacheBound(t *testing.T) {
	h := New(&fakeFactory{failOn: map[int]bool{0: true}}, &fakeCrawler{}, &fakeFetcher{}, nil, Options{
		Categories:    []models.CategorySpec{{Path: "special-nyj-uhod", ExpectedCount: 8722}},
		MaxValue:      10,
		MaxCacheValue: 2400,
	}, nil, discardLogger())

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Categories, 1)
	assert.True(t, report.Categories[0].Partial)
	assert.Equal(t, 2400, report.Categories[0].Target)
}

func TestRunCapsTableAtMaxValue(t *testing.T) {
	var urls []string
	results := make(map[string]scraper.Result)
	for i := 1; i <= 5; i++ {
		urls = append(urls, productURL(i))
		results[productURL(i)] = accepted(int64(i))
	}
	crawler := &fakeCrawler{results: map[string]*scraper.CrawlResult{"kremy": {Target: 5, URLs: urls}}}
	sink := &recordingSink{name: "memory"}

	h := New(&fakeFactory{}, crawler, &fakeFetcher{results: results}, []Sink{sink}, Options{
		Categories: []models.CategorySpec{{Path: "kremy", ExpectedCount: 5}},
		MaxValue:   3,
	}, nil, discardLogger())

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.Accepted)
	assert.Equal(t, 3, report.Records)
	assert.Equal(t, 2, report.Dropped)
	require.Len(t, sink.records, 3)
	assert.Equal(t, int64(3), sink.records[2].ProductID)
	assert.Equal(t, 2, h.Tracker().Snapshot().Dropped)
}

func TestRunReportsSinkErrorsAfterTryingEverySink(t *testing.T) {
	crawler := &fakeCrawler{results: map[string]*scraper.CrawlResult{"kremy": {Target: 1, URLs: []string{productURL(1)}}}}
	fetcher := &fakeFetcher{results: map[string]scraper.Result{productURL(1): accepted(1)}}
	broken := &recordingSink{name: "postgres", err: errors.New("connection refused")}
	csv := &recordingSink{name: "csv"}

	h := New(&fakeFactory{}, crawler, fetcher, []Sink{broken, csv}, Options{
		Categories: []models.CategorySpec{{Path: "kremy", ExpectedCount: 1}},
		MaxValue:   10,
	}, nil, discardLogger())

	report, err := h.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres sink")
	assert.NotNil(t, report)
	assert.Equal(t, 1, csv.calls)
	assert.Len(t, csv.records, 1)
}

func TestRunWritesPartialResultsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{}
	sink := &recordingSink{name: "csv"}
	h := New(&fakeFactory{}, &fakeCrawler{}, fetcher, []Sink{sink}, Options{
		Categories: []models.CategorySpec{{Path: "kremy", ExpectedCount: 10}},
		MaxValue:   10,
	}, nil, discardLogger())

	report, err := h.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Categories)
	assert.Empty(t, fetcher.fetched)
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, PhaseDone, h.Tracker().Snapshot().Phase)
}

func TestRunDumpsDiscoveredLinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.json")
	crawler := &fakeCrawler{results: map[string]*scraper.CrawlResult{
		"patchi": {Target: 2, URLs: []string{productURL(1), productURL(2)}},
	}}

	h := New(&fakeFactory{}, crawler, &fakeFetcher{}, nil, Options{
		Categories: []models.CategorySpec{{Path: "patchi", ExpectedCount: 2}},
		MaxValue:   10,
		LinksPath:  path,
	}, nil, discardLogger())

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var dump struct {
		RunID     string              `json:"run_id"`
		Total     int                 `json:"total"`
		Discovery map[string][]string `json:"discovery"`
	}
	require.NoError(t, json.Unmarshal(data, &dump))
	assert.Equal(t, report.RunID, dump.RunID)
	assert.Equal(t, 2, dump.Total)
	assert.Equal(t, []string{productURL(1), productURL(2)}, dump.Discovery["patchi"])
}

func TestRunShowsProgressBar(t *testing.T) {
	crawler := &fakeCrawler{results: map[string]*scraper.CrawlResult{"pedy": {Target: 2, URLs: []string{productURL(1), productURL(2)}}}}
	var out bytes.Buffer

	h := New(&fakeFactory{}, crawler, &fakeFetcher{}, nil, Options{
		Categories:     []models.CategorySpec{{Path: "pedy", ExpectedCount: 2}},
		MaxValue:       10,
		ProgressOutput: &out,
	}, nil, discardLogger())

	_, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "fetching products")
}

func TestTrackerSnapshotIsACopy(t *testing.T) {
	tracker := NewTracker()
	assert.Equal(t, PhaseIdle, tracker.Snapshot().Phase)

	tracker.start("run-1")
	tracker.update(func(p *Progress) {
		p.Categories = append(p.Categories, CategoryReport{Path: "kremy"})
	})

	snap := tracker.Snapshot()
	snap.Categories[0].Path = "changed"

	assert.Equal(t, "kremy", tracker.Snapshot().Categories[0].Path)
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, PhaseDiscovering, snap.Phase)
}

const productTemplate = `<html><head>
<meta itemprop="sku" content="%d"><meta itemprop="price" content="%d">
</head><body><div value="Description_0"><dl>
<dt><span>область применения</span></dt> <dt><span>%s</span></dt>
</dl><div text="состав"><div>aqua, glycerin</div></div></div></body></html>`

func TestRunEndToEndWritesCSV(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/101-krem", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, productTemplate, 101, 1290, "лицо")
	})
	mux.HandleFunc("/102-krem-dlja-ruk", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, productTemplate, 102, 500, "руки")
	})
	mux.HandleFunc("/103-maska", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, productTemplate, 103, 700, "лицо")
	})
	mux.HandleFunc("/review/product/101", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<meta itemprop="reviewCount" content="4"><div itemprop="ratingValue">4.5</div>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	site := config.SiteConfig{
		URL:        srv.URL,
		CatalogURL: srv.URL + "/catalog/",
		ReviewURL:  srv.URL + "/review/product/",
		FaceMarker: "лицо",
	}
	crawler := scraper.NewCategoryCrawler(site, config.CrawlerConfig{
		LoadMoreTimeout: time.Second,
		MaxCacheValue:   2400,
		LoadMoreXPath:   "//div[%d]/button",
		FirstLoadMore:   2,
	}, discardLogger())
	fetcher := scraper.NewProductFetcher(srv.Client(), site, config.FetcherConfig{RequestTimeout: 5 * time.Second}, discardLogger())

	factory := &fakeFactory{links: map[int][]string{
		0: {srv.URL + "/101-krem", srv.URL + "/102-krem-dlja-ruk", srv.URL + "/about"},
		1: {srv.URL + "/103-maska", srv.URL + "/101-krem"},
	}}

	csvPath := filepath.Join(t.TempDir(), "gold_apple_data.csv")
	h := New(factory, crawler, fetcher, []Sink{storage.NewCSVSink(csvPath)}, Options{
		Categories: []models.CategorySpec{{Path: "kremy", ExpectedCount: 2}, {Path: "maski", ExpectedCount: 2}},
		MaxValue:   25000,
	}, nil, discardLogger())

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.URLs)
	assert.Equal(t, 2, report.Accepted)
	assert.Equal(t, 1, report.Filtered)
	assert.Equal(t, 0, report.Failed)

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{
		"product_id,price,rating,review_count,composition",
		`101,1290,4.5,4,"aqua, glycerin"`,
		`103,700,0.0,0,"aqua, glycerin"`,
	}, lines)
}

package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/cosmetics-harvester/internal/models"
	"github.com/maltedev/cosmetics-harvester/internal/ratelimit"
	"github.com/maltedev/cosmetics-harvester/internal/scraper"
	"github.com/maltedev/cosmetics-harvester/internal/storage"
	"github.com/schollz/progressbar/v3"
)

// progressEvery is how many processed products pass between progress logs.
const progressEvery = 100

// Sink receives the final record table of a run.
type Sink interface {
	Name() string
	Write(ctx context.Context, runID string, records []models.ProductRecord) error
}

// SessionFactory opens an exclusive rendering session for one category.
type SessionFactory interface {
	Launch(ctx context.Context) (scraper.Session, error)
}

type Crawler interface {
	Crawl(ctx context.Context, session scraper.Session, category models.CategorySpec) *scraper.CrawlResult
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) scraper.Result
}

type Options struct {
	Categories []models.CategorySpec
	MaxValue   int
	// MaxCacheValue caps the per-category target; 0 leaves it uncapped.
	MaxCacheValue int
	// LinksPath, when set, receives a JSON dump of the discovered URLs.
	LinksPath string
	// ProgressOutput, when set, shows a progress bar while fetching.
	ProgressOutput io.Writer
	Pacer          ratelimit.RateLimiter
}

// Report is the outcome of a run.
type Report struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Categories []CategoryReport `json:"categories"`
	URLs       int              `json:"urls"`
	Processed  int              `json:"processed"`
	Accepted   int              `json:"accepted"`
	Filtered   int              `json:"filtered"`
	Failed     int              `json:"failed"`
	Dropped    int              `json:"dropped"`
	Records    int              `json:"records"`
}

type Harvester struct {
	sessions SessionFactory
	crawler  Crawler
	fetcher  Fetcher
	sinks    []Sink
	opts     Options
	tracker  *Tracker
	logger   *slog.Logger
}

func New(sessions SessionFactory, crawler Crawler, fetcher Fetcher, sinks []Sink, opts Options, tracker *Tracker, logger *slog.Logger) *Harvester {
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Harvester{
		sessions: sessions,
		crawler:  crawler,
		fetcher:  fetcher,
		sinks:    sinks,
		opts:     opts,
		tracker:  tracker,
		logger:   logger.With("component", "harvester"),
	}
}

func (h *Harvester) Tracker() *Tracker {
	return h.tracker
}

// Run discovers product URLs category by category, fetches each of them once
// and hands the accepted records to every sink. Per-category and per-product
// failures are counted, not returned. When ctx is cancelled the records
// gathered so far are still written and the cancellation is returned.
func (h *Harvester) Run(ctx context.Context) (*Report, error) {
	runID := uuid.New().String()
	h.tracker.start(runID)
	logger := h.logger.With("run_id", runID)

	report := &Report{RunID: runID, StartedAt: time.Now()}
	logger.Info("harvest started", "categories", len(h.opts.Categories), "max_value", h.opts.MaxValue)

	union := h.discover(ctx, logger, report)
	report.URLs = len(union)

	table := storage.NewResultTable(h.opts.MaxValue)
	h.tracker.setPhase(PhaseFetching)
	h.fetchAll(ctx, logger, union, table, report)

	report.Dropped = table.Dropped()
	report.Records = table.Len()

	h.tracker.setPhase(PhaseWriting)
	sinkErr := h.writeSinks(context.WithoutCancel(ctx), logger, runID, table.Records())

	report.FinishedAt = time.Now()
	h.tracker.setPhase(PhaseDone)

	logger.Info("harvest finished",
		"urls", report.URLs,
		"processed", report.Processed,
		"accepted", report.Accepted,
		"filtered", report.Filtered,
		"failed", report.Failed,
		"dropped", report.Dropped,
		"duration", report.FinishedAt.Sub(report.StartedAt))

	if err := ctx.Err(); err != nil {
		return report, errors.Join(fmt.Errorf("harvest interrupted: %w", err), sinkErr)
	}
	return report, sinkErr
}

func (h *Harvester) discover(ctx context.Context, logger *slog.Logger, report *Report) []string {
	union := storage.NewLinkSet(0)
	discovery := make(map[string][]string)

	for _, category := range h.opts.Categories {
		if ctx.Err() != nil {
			break
		}

		h.tracker.update(func(p *Progress) { p.CurrentCategory = category.Path })
		cr, urls := h.crawlCategory(ctx, logger, category, union)
		discovery[category.Path] = urls

		report.Categories = append(report.Categories, cr)
		h.tracker.update(func(p *Progress) {
			p.Categories = append(p.Categories, cr)
			p.URLs = union.Len()
		})
	}

	if h.opts.LinksPath != "" {
		if err := storage.WriteLinks(h.opts.LinksPath, report.RunID, discovery); err != nil {
			logger.Warn("failed to write discovered links", "path", h.opts.LinksPath, "error", err)
		}
	}

	return union.URLs()
}

func (h *Harvester) crawlCategory(ctx context.Context, logger *slog.Logger, category models.CategorySpec, union *storage.LinkSet) (CategoryReport, []string) {
	cr := CategoryReport{Path: category.Path, Target: category.Target(h.opts.MaxCacheValue)}

	session, err := h.sessions.Launch(ctx)
	if err != nil {
		if !errors.Is(err, scraper.ErrSession) {
			err = fmt.Errorf("%w: %v", scraper.ErrSession, err)
		}
		logger.Error("failed to open session", "category", category.Path, "error", err)
		cr.Partial = true
		cr.Error = err.Error()
		return cr, nil
	}

	result := h.crawler.Crawl(ctx, session, category)

	if err := session.Close(); err != nil {
		logger.Warn("failed to close session", "category", category.Path, "error", err)
	}

	cr.New = union.AddAll(result.URLs)

	cr.Target = result.Target
	cr.Discovered = len(result.URLs)
	cr.Increments = result.Increments
	cr.Partial = result.Partial
	if result.Reason != nil {
		cr.Error = result.Reason.Error()
	}

	logger.Info("category done",
		"category", category.Path,
		"discovered", cr.Discovered,
		"new", cr.New,
		"union", union.Len(),
		"partial", cr.Partial)

	return cr, result.URLs
}

func (h *Harvester) fetchAll(ctx context.Context, logger *slog.Logger, urls []string, table *storage.ResultTable, report *Report) {
	var bar *progressbar.ProgressBar
	if h.opts.ProgressOutput != nil && len(urls) > 0 {
		bar = newProgressBar(h.opts.ProgressOutput, len(urls), "fetching products")
		defer bar.Finish()
	}

	for _, url := range urls {
		if ctx.Err() != nil {
			return
		}
		if h.opts.Pacer != nil {
			if err := h.opts.Pacer.Wait(ctx); err != nil {
				return
			}
		}

		result := h.fetcher.Fetch(ctx, url)

		report.Processed++
		dropped := false
		switch result.Outcome {
		case scraper.OutcomeAccepted:
			report.Accepted++
			dropped = !table.Append(*result.Record)
		case scraper.OutcomeFiltered:
			report.Filtered++
		default:
			report.Failed++
		}

		h.tracker.update(func(p *Progress) {
			p.Processed = report.Processed
			p.Accepted = report.Accepted
			p.Filtered = report.Filtered
			p.Failed = report.Failed
			if dropped {
				p.Dropped++
			}
		})

		if bar != nil {
			bar.Add(1)
		}

		if report.Processed%progressEvery == 0 {
			logger.Info("fetch progress",
				"processed", report.Processed,
				"total", len(urls),
				"accepted", report.Accepted,
				"failed", report.Failed)
		}
	}
}

func (h *Harvester) writeSinks(ctx context.Context, logger *slog.Logger, runID string, records []models.ProductRecord) error {
	var errs []error
	for _, sink := range h.sinks {
		if err := sink.Write(ctx, runID, records); err != nil {
			logger.Error("sink failed", "sink", sink.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s sink: %w", sink.Name(), err))
			continue
		}
		logger.Info("records written", "sink", sink.Name(), "count", len(records))
	}
	return errors.Join(errs...)
}

func newProgressBar(w io.Writer, max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Package flatlist harvests a portal that publishes every paper as a plain
// link on a single listing page.
package flatlist

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/paper-harvester/internal/extract"
	"github.com/JakeFAU/paper-harvester/internal/harvest"
	"github.com/JakeFAU/paper-harvester/internal/metrics"
	"github.com/JakeFAU/paper-harvester/internal/paper"
)

// Link is one document anchor found on the listing page. URL is absolute.
type Link struct {
	URL  string
	Text string
}

// LinkSource fetches the listing page and returns its document links. Any
// error is fatal to the run.
type LinkSource interface {
	Links(ctx context.Context, pageURL string) ([]Link, error)
}

// Config controls the harvester.
type Config struct {
	URL            string
	Source         paper.Source
	DefaultWorkers int
	BatchDelay     time.Duration
}

// Harvester implements harvest.Harvester for a flat listing page.
type Harvester struct {
	links   LinkSource
	cfg     Config
	logger  *zap.Logger
	extract func(Link) (paper.Record, bool)
}

// New constructs a Harvester.
func New(links LinkSource, cfg Config, logger *zap.Logger) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Source == "" {
		cfg.Source = paper.SourcePortal1
	}
	return &Harvester{
		links:   links,
		cfg:     cfg,
		logger:  logger,
		extract: extractLink,
	}
}

// Harvest fetches the listing once, then extracts links in batches of
// twice the worker count. Records are yielded in completion order.
func (h *Harvester) Harvest(ctx context.Context, req harvest.Request, stop *harvest.StopSignal, yield harvest.Yield) error {
	links, err := h.links.Links(ctx, h.cfg.URL)
	if err != nil {
		return fmt.Errorf("fetch listing %s: %w", h.cfg.URL, err)
	}
	workers := harvest.ClampWorkers(req.Workers, h.cfg.DefaultWorkers)
	batchSize := 2 * workers
	h.logger.Info("listing fetched",
		zap.String("url", h.cfg.URL),
		zap.Int("links", len(links)),
		zap.Int("workers", workers),
	)

	var limiter *rate.Limiter
	if h.cfg.BatchDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(h.cfg.BatchDelay), 1)
	}

	for start := 0; start < len(links); start += batchSize {
		if harvest.Halted(ctx, stop) {
			return nil
		}
		if !h.pace(ctx, stop, limiter) {
			return nil
		}
		end := min(start+batchSize, len(links))
		if !h.runBatch(ctx, req, stop, links[start:end], workers, yield) {
			return nil
		}
	}
	return nil
}

func (h *Harvester) pace(ctx context.Context, stop *harvest.StopSignal, limiter *rate.Limiter) bool {
	if limiter == nil {
		return true
	}
	delay := limiter.Reserve().Delay()
	metrics.ObserveBatchDelay(string(h.cfg.Source), delay)
	return harvest.Pause(ctx, stop, delay)
}

// runBatch fans the batch out to at most workers goroutines. It returns
// false once the consumer or the stop flag ends the run; in-flight workers
// finish into the buffered channel and their results are dropped.
func (h *Harvester) runBatch(
	ctx context.Context,
	req harvest.Request,
	stop *harvest.StopSignal,
	batch []Link,
	workers int,
	yield harvest.Yield,
) bool {
	results := make(chan paper.Record, len(batch))
	go func() {
		var g errgroup.Group
		g.SetLimit(workers)
		for _, link := range batch {
			g.Go(func() error {
				if harvest.Halted(ctx, stop) {
					return nil
				}
				if rec, ok := h.safeExtract(link); ok {
					results <- rec
				}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	for rec := range results {
		if harvest.Halted(ctx, stop) {
			return false
		}
		if !req.WantsYear(rec.Year) {
			h.logger.Debug("year filtered", zap.String("url", rec.SourceURL), zap.String("year", rec.Year))
			continue
		}
		if !yield(rec) {
			return false
		}
	}
	return !harvest.Halted(ctx, stop)
}

func (h *Harvester) safeExtract(link Link) (rec paper.Record, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("link extraction panicked", zap.String("url", link.URL), zap.Any("panic", r))
			rec, ok = paper.Record{}, false
		}
	}()
	rec, ok = h.extract(link)
	if !ok {
		h.logger.Warn("skipping unparseable link", zap.String("url", link.URL), zap.String("text", link.Text))
		return paper.Record{}, false
	}
	rec.Source = h.cfg.Source
	return rec, true
}

func extractLink(link Link) (paper.Record, bool) {
	return extract.Extract(link.URL, "", nil)
}

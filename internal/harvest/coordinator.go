package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/metrics"
	"github.com/JakeFAU/paper-harvester/internal/paper"
)

// Config controls Coordinator behavior.
type Config struct {
	// DefaultWorkers is used when a request carries no worker hint.
	DefaultWorkers int
	// IngestRetry governs re-attempts of a failed sink call.
	IngestRetry RetryPolicy
}

// Coordinator runs one harvest job at a time and owns its status.
type Coordinator struct {
	baseCtx    context.Context
	harvesters map[paper.Source]Harvester
	gate       *Gate
	sink       Sink
	status     *Tracker
	cfg        Config
	logger     *zap.Logger

	mu   sync.Mutex
	stop *StopSignal
	wg   sync.WaitGroup
}

// NewCoordinator wires the harvesters, gate and sink. Jobs inherit baseCtx,
// so canceling it aborts a running job at its next poll point.
func NewCoordinator(
	baseCtx context.Context,
	harvesters map[paper.Source]Harvester,
	gate *Gate,
	sink Sink,
	status *Tracker,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if status == nil {
		status = NewTracker(nil)
	}
	if cfg.IngestRetry.MaxAttempts <= 0 {
		cfg.IngestRetry = NewRetryPolicy(2, 500*time.Millisecond, 2*time.Second)
	}
	metrics.Init()
	return &Coordinator{
		baseCtx:    baseCtx,
		harvesters: harvesters,
		gate:       gate,
		sink:       sink,
		status:     status,
		cfg:        cfg,
		logger:     logger,
	}
}

// StartJob launches a harvest for req.Source and returns immediately.
func (c *Coordinator) StartJob(req Request) error {
	sources, err := c.resolve(req.Source)
	if err != nil {
		return err
	}
	req.Workers = ClampWorkers(req.Workers, c.cfg.DefaultWorkers)

	c.mu.Lock()
	if !c.status.TryStart(req.Source) {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	stop := NewStopSignal()
	c.stop = stop
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("harvest job started",
		zap.String("source", string(req.Source)),
		zap.Strings("years", req.Years),
		zap.Int("workers", req.Workers),
		zap.Bool("upload", req.Upload),
	)
	go c.run(req, sources, stop)
	return nil
}

// RequestStop raises the stop flag of the running job without waiting for
// it to unwind.
func (c *Coordinator) RequestStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.RequestStop() {
		return ErrNotRunning
	}
	c.stop.Stop()
	c.logger.Info("harvest stop requested")
	return nil
}

// Status returns a snapshot of the current job status.
func (c *Coordinator) Status() Status {
	return c.status.Snapshot()
}

// Wait blocks until the running job, if any, has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) resolve(source paper.Source) ([]paper.Source, error) {
	var sources []paper.Source
	if source == paper.SourceAll {
		sources = []paper.Source{paper.SourcePortal1, paper.SourcePortal2}
	} else {
		sources = []paper.Source{source}
	}
	for _, s := range sources {
		if _, ok := c.harvesters[s]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
		}
	}
	return sources, nil
}

func (c *Coordinator) run(req Request, sources []paper.Source, stop *StopSignal) {
	defer c.wg.Done()
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	var jobErr error
	defer func() {
		if r := recover(); r != nil {
			jobErr = fmt.Errorf("harvest panic: %v", r)
		}
		c.finish(req.Source, stop, jobErr)
	}()

	ctx := c.baseCtx
	for _, source := range sources {
		if Halted(ctx, stop) {
			break
		}
		c.status.SetSource(source, fmt.Sprintf("Starting scrape for %s...", source))
		sub := req
		sub.Source = source
		err := c.harvesters[source].Harvest(ctx, sub, stop, func(rec paper.Record) bool {
			return c.consume(ctx, sub, stop, rec)
		})
		if err != nil {
			jobErr = fmt.Errorf("%s: %w", source, err)
			return
		}
	}
}

func (c *Coordinator) consume(ctx context.Context, req Request, stop *StopSignal, rec paper.Record) bool {
	if Halted(ctx, stop) {
		return false
	}
	if rec.Source == "" {
		rec.Source = req.Source
	}
	logger := c.logger.With(zap.String("source", string(rec.Source)), zap.String("url", rec.SourceURL))

	reason, err := c.gate.Check(ctx, rec)
	if err != nil {
		logger.Warn("dedup check failed", zap.Error(err))
		c.status.Fail(fmt.Sprintf("Dedup check failed for %s: %v", rec.Title, err))
		metrics.ObserveRecord(string(rec.Source), metrics.OutcomeFailed)
		return true
	}
	if reason != ReasonNone {
		logger.Debug("skipping duplicate", zap.String("reason", string(reason)))
		c.status.Skip(rec.Title, fmt.Sprintf("Skipping existing (%s): %s", reason, rec.Title))
		metrics.ObserveRecord(string(rec.Source), metrics.OutcomeSkipped)
		return true
	}

	var outcome Outcome
	err = c.cfg.IngestRetry.Do(ctx, nil, func(attempt int) error {
		var ierr error
		outcome, ierr = c.sink.Ingest(ctx, rec, req.Upload)
		if ierr != nil {
			logger.Warn("ingest attempt failed", zap.Int("attempt", attempt), zap.Error(ierr))
		}
		return ierr
	})
	if err != nil {
		c.status.Fail(fmt.Sprintf("Error processing %s: %v", rec.Title, err))
		metrics.ObserveRecord(string(rec.Source), metrics.OutcomeFailed)
		return true
	}
	for _, w := range outcome.Warnings {
		c.status.AddError(w)
	}
	c.status.Accept(rec.Title, "Saved: "+rec.Title)
	metrics.ObserveRecord(string(rec.Source), metrics.OutcomeAccepted)
	logger.Debug("record saved", zap.String("id", outcome.Record.ID))
	return true
}

func (c *Coordinator) finish(source paper.Source, stop *StopSignal, jobErr error) {
	snap := c.status.Snapshot()
	var (
		msg    string
		result Result
	)
	switch {
	case jobErr != nil:
		c.status.AddError(jobErr.Error())
		msg = fmt.Sprintf("Scrape failed: %v", jobErr)
		result = ResultFailed
		c.logger.Error("harvest job failed", zap.String("source", string(source)), zap.Error(jobErr))
	case stop.Stopped() || c.baseCtx.Err() != nil:
		msg = fmt.Sprintf("Stopped early. Scraped %d papers, skipped %d.", snap.Accepted, snap.Skipped)
		result = ResultStopped
	default:
		msg = fmt.Sprintf("Completed! Scraped %d papers, skipped %d.", snap.Accepted, snap.Skipped)
		result = ResultCompleted
	}

	c.mu.Lock()
	c.status.Finish(result, msg)
	c.mu.Unlock()

	metrics.ObserveJob(string(result))
	c.logger.Info("harvest job finished",
		zap.String("source", string(source)),
		zap.String("result", string(result)),
		zap.Int("accepted", snap.Accepted),
		zap.Int("skipped", snap.Skipped),
		zap.Int("failed", snap.Failed),
	)
}

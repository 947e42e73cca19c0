package harvest

import (
	"context"
	"errors"

	"github.com/JakeFAU/paper-harvester/internal/paper"
)

// Rejections surfaced synchronously by the Coordinator.
var (
	ErrAlreadyRunning = errors.New("a harvest job is already running")
	ErrNotRunning     = errors.New("no harvest job is currently running")
	ErrUnknownSource  = errors.New("unknown source")
)

// Yield receives one harvested record. Returning false asks the harvester
// to stop producing and return.
type Yield func(rec paper.Record) bool

// Harvester produces a lazy stream of records from one portal. It returns a
// non-nil error only for failures fatal to the whole run; per-record
// problems are logged and skipped.
type Harvester interface {
	Harvest(ctx context.Context, req Request, stop *StopSignal, yield Yield) error
}

// HarvesterFunc adapts a function to Harvester.
type HarvesterFunc func(ctx context.Context, req Request, stop *StopSignal, yield Yield) error

// Harvest calls f.
func (f HarvesterFunc) Harvest(ctx context.Context, req Request, stop *StopSignal, yield Yield) error {
	return f(ctx, req, stop, yield)
}

// Request carries the caller's job options.
type Request struct {
	Source  paper.Source `json:"portal"`
	Years   []string     `json:"years,omitempty"`
	Workers int          `json:"workers,omitempty"`
	Upload  bool         `json:"upload_to_storage"`
}

// WantsYear reports whether a year passes the filter. Empty years and an
// empty filter always pass.
func (r Request) WantsYear(year string) bool {
	if len(r.Years) == 0 || year == "" {
		return true
	}
	for _, y := range r.Years {
		if y == year {
			return true
		}
	}
	return false
}

// Sink persists records that passed the deduplication gate.
type Sink interface {
	Ingest(ctx context.Context, rec paper.Record, upload bool) (Outcome, error)
}

// Outcome describes a persisted record. Warnings are non-fatal problems
// (for example a failed blob upload) that should reach the job error log.
type Outcome struct {
	Record   paper.Record
	Warnings []string
}

// MinWorkers and MaxWorkers bound the flat-list worker pool.
const (
	MinWorkers = 1
	MaxWorkers = 10
)

// ClampWorkers bounds n to [MinWorkers, MaxWorkers], using def when n is
// not positive.
func ClampWorkers(n, def int) int {
	if n <= 0 {
		n = def
	}
	switch {
	case n < MinWorkers:
		return MinWorkers
	case n > MaxWorkers:
		return MaxWorkers
	default:
		return n
	}
}

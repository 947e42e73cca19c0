package harvest

import (
	"sync"
	"time"

	"github.com/JakeFAU/paper-harvester/internal/paper"
)

// Result is how a finished job ended.
type Result string

// Job results.
const (
	ResultCompleted Result = "completed"
	ResultStopped   Result = "stopped"
	ResultFailed    Result = "failed"
)

// Status is a point-in-time snapshot of the current (or last) job.
type Status struct {
	Running       bool         `json:"is_running"`
	StopRequested bool         `json:"stop_requested"`
	Source        paper.Source `json:"portal,omitempty"`
	Accepted      int          `json:"progress"`
	Skipped       int          `json:"skipped"`
	Failed        int          `json:"failed"`
	Errors        []string     `json:"errors"`
	Message       string       `json:"message"`
	Result        Result       `json:"result,omitempty"`
	LastTitle     string       `json:"last_title,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
}

// Tracker owns the job status. Mutations and snapshots are serialized so
// readers never observe a partially applied update.
type Tracker struct {
	mu    sync.RWMutex
	state Status
	clock paper.Clock
}

// NewTracker returns an idle tracker.
func NewTracker(clock paper.Clock) *Tracker {
	return &Tracker{clock: clock, state: Status{Errors: []string{}}}
}

// TryStart atomically checks that no job is running, then resets the
// status and marks a new job running. It returns false when a job is
// already running.
func (t *Tracker) TryStart(source paper.Source) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Running {
		return false
	}
	now := t.now()
	t.state = Status{
		Running:   true,
		Source:    source,
		Errors:    []string{},
		Message:   "Starting scrape for " + string(source) + "...",
		StartedAt: &now,
	}
	return true
}

// RequestStop flags the running job. It returns false when none runs.
func (t *Tracker) RequestStop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Running {
		return false
	}
	t.state.StopRequested = true
	t.state.Message = "Stop requested..."
	return true
}

// SetSource records the portal currently being harvested.
func (t *Tracker) SetSource(source paper.Source, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Source = source
	t.state.Message = msg
}

// SetMessage replaces the last-message string.
func (t *Tracker) SetMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Message = msg
}

// Accept counts a persisted record.
func (t *Tracker) Accept(title, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Accepted++
	t.state.LastTitle = title
	t.state.Message = msg
}

// Skip counts a record rejected as a duplicate.
func (t *Tracker) Skip(title, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Skipped++
	t.state.LastTitle = title
	t.state.Message = msg
}

// Fail counts a record that could not be ingested and logs the error.
func (t *Tracker) Fail(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Failed++
	t.state.Errors = append(t.state.Errors, msg)
}

// AddError appends to the error log without touching counters.
func (t *Tracker) AddError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Errors = append(t.state.Errors, msg)
}

// Finish clears the running and stop-requested flags.
func (t *Tracker) Finish(result Result, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.state.Running = false
	t.state.StopRequested = false
	t.state.Result = result
	t.state.Message = msg
	t.state.FinishedAt = &now
}

// Snapshot returns a consistent copy of the status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.state
	out.Errors = append([]string{}, t.state.Errors...)
	return out
}

func (t *Tracker) now() time.Time {
	if t.clock == nil {
		return time.Now().UTC()
	}
	return t.clock.Now()
}

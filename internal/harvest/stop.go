package harvest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// StopSignal is the shared, cooperative stop flag of one job. The zero value
// is not usable; a nil *StopSignal never reports stopped.
type StopSignal struct {
	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// NewStopSignal returns an unset signal.
func NewStopSignal() *StopSignal {
	return &StopSignal{done: make(chan struct{})}
}

// Stop raises the flag. Safe to call repeatedly and concurrently.
func (s *StopSignal) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.stopped.Store(true)
		close(s.done)
	})
}

// Stopped reports whether Stop has been called.
func (s *StopSignal) Stopped() bool {
	return s != nil && s.stopped.Load()
}

// Done is closed once Stop is called.
func (s *StopSignal) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.done
}

// Halted reports whether the job should stop initiating new work.
func Halted(ctx context.Context, stop *StopSignal) bool {
	return ctx.Err() != nil || stop.Stopped()
}

// Pause sleeps for d unless the context ends or the stop flag is raised
// first. It returns false when interrupted.
func Pause(ctx context.Context, stop *StopSignal, d time.Duration) bool {
	if d <= 0 {
		return !Halted(ctx, stop)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-stop.Done():
		return false
	}
}

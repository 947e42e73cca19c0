package tree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/harvest"
	"github.com/JakeFAU/paper-harvester/internal/metrics"
)

// ErrNavigationLost means the session could not be returned to a known
// folder position. The traversal cannot continue.
var ErrNavigationLost = errors.New("navigation position lost")

// navigator owns the frame stack of folders entered from the root.
type navigator struct {
	session      Session
	rootURL      string
	frames       []Entry
	retry        harvest.RetryPolicy
	readyTimeout time.Duration
	settle       time.Duration
	unwind       time.Duration
	logger       *zap.Logger

	mu       sync.Mutex
	unwindBy time.Time
}

// breadcrumbs returns the folder names from the root to the current level.
func (n *navigator) breadcrumbs() []string {
	out := make([]string, len(n.frames))
	for i, f := range n.frames {
		out[i] = f.Name
	}
	return out
}

// within enters folder, runs fn, and returns to the parent on every exit
// path. A failed return that cannot be repaired yields ErrNavigationLost,
// which takes precedence over fn's error.
func (n *navigator) within(ctx context.Context, stop *harvest.StopSignal, folder Entry, fn func() error) (err error) {
	if err := n.descend(ctx, stop, folder); err != nil {
		return fmt.Errorf("open folder %q: %w", folder.Name, err)
	}
	n.frames = append(n.frames, folder)
	defer func() {
		if perr := n.ascend(ctx); perr != nil {
			err = perr
		}
	}()
	return fn()
}

func (n *navigator) descend(ctx context.Context, stop *harvest.StopSignal, folder Entry) error {
	target := folder
	err := n.retry.Do(ctx, stop, func(attempt int) error {
		if attempt > 1 {
			metrics.ObserveNavigationRetry("descend")
			fresh, err := n.locate(ctx, folder.Name)
			if err != nil {
				return err
			}
			target = fresh
		}
		return n.session.Click(ctx, target)
	})
	if err != nil {
		return err
	}
	n.wait(ctx)
	return nil
}

// ascend pops the top frame and steps back to the parent. When stepping
// back fails the position is rebuilt from the root.
func (n *navigator) ascend(ctx context.Context) error {
	ctx, cancel := n.unwindContext(ctx)
	defer cancel()
	top := n.frames[len(n.frames)-1]
	n.frames = n.frames[:len(n.frames)-1]

	err := n.retry.Do(ctx, nil, func(attempt int) error {
		if attempt > 1 {
			metrics.ObserveNavigationRetry("back")
		}
		return n.session.Back(ctx)
	})
	if err == nil {
		n.wait(ctx)
		return nil
	}
	n.logger.Warn("return to parent failed; replaying from root",
		zap.String("folder", top.Name), zap.Strings("path", n.breadcrumbs()), zap.Error(err))
	metrics.ObserveNavigationRetry("resync")
	if rerr := n.resync(ctx); rerr != nil {
		return fmt.Errorf("%w: %w", ErrNavigationLost, rerr)
	}
	return nil
}

// unwindContext keeps stepping back after ctx is canceled, but only until
// one shared unwind deadline passes. The deadline starts when ctx ends.
func (n *navigator) unwindContext(ctx context.Context) (context.Context, context.CancelFunc) {
	uctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var timer *time.Timer
	stop := context.AfterFunc(ctx, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.unwindBy.IsZero() {
			n.unwindBy = time.Now().Add(n.unwind)
		}
		timer = time.AfterFunc(time.Until(n.unwindBy), cancel)
	})
	return uctx, func() {
		stop()
		cancel()
		n.mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		n.mu.Unlock()
	}
}

// resync reloads the root and clicks through the remaining frames by name.
func (n *navigator) resync(ctx context.Context) error {
	if err := n.session.Open(ctx, n.rootURL); err != nil {
		return fmt.Errorf("reload root: %w", err)
	}
	n.wait(ctx)
	for _, frame := range n.frames {
		entry, err := n.locate(ctx, frame.Name)
		if err != nil {
			return err
		}
		if err := n.session.Click(ctx, entry); err != nil {
			return fmt.Errorf("replay %q: %w", frame.Name, err)
		}
		n.wait(ctx)
	}
	return nil
}

// listing reads the current level, retrying transient failures.
func (n *navigator) listing(ctx context.Context, stop *harvest.StopSignal) (Listing, error) {
	var out Listing
	err := n.retry.Do(ctx, stop, func(attempt int) error {
		if attempt > 1 {
			metrics.ObserveNavigationRetry("listing")
		}
		l, err := n.session.Listing(ctx)
		if err != nil {
			return err
		}
		out = l
		return nil
	})
	return out, err
}

// locate finds a folder by name in a fresh listing.
func (n *navigator) locate(ctx context.Context, name string) (Entry, error) {
	l, err := n.session.Listing(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("relist for %q: %w", name, err)
	}
	for _, f := range l.Folders {
		if f.Name == name {
			return f, nil
		}
	}
	return Entry{}, fmt.Errorf("folder %q no longer listed", name)
}

func (n *navigator) wait(ctx context.Context) {
	if !n.session.WaitReady(ctx, n.readyTimeout) {
		n.logger.Debug("page not ready before timeout; continuing", zap.Strings("path", n.breadcrumbs()))
	}
	harvest.Pause(ctx, nil, n.settle)
}

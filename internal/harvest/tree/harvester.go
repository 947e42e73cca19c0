package tree

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/extract"
	"github.com/JakeFAU/paper-harvester/internal/harvest"
	"github.com/JakeFAU/paper-harvester/internal/paper"
)

// Folder levels below the portal root.
const (
	levelRoot    = iota // year folders
	levelYear           // exam session folders
	levelSession        // branch or semester folders, loose papers
	levelBranch         // subject folders, papers
	levelSubject        // papers only
)

// Defaults applied by New.
const (
	DefaultMaxSiblings  = 30
	DefaultReadyTimeout = 10 * time.Second
	DefaultSettle       = 300 * time.Millisecond
	DefaultUnwind       = 5 * time.Second
)

// DefaultSkipFolders names administrative folders that never hold papers.
var DefaultSkipFolders = []string{"guideline", "governance"}

// errConsumerDone unwinds the walk when the consumer stops accepting.
var errConsumerDone = errors.New("consumer done")

// Config controls the harvester.
type Config struct {
	URL          string
	Source       paper.Source
	MaxSiblings  int
	SkipFolders  []string
	Retry        harvest.RetryPolicy
	ReadyTimeout time.Duration
	Settle       time.Duration

	// UnwindTimeout bounds how long the session keeps stepping back out of
	// open folders once the harvest context is canceled.
	UnwindTimeout time.Duration
}

// Harvester implements harvest.Harvester over a folder tree.
type Harvester struct {
	browser Browser
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Harvester.
func New(browser Browser, cfg Config, logger *zap.Logger) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Source == "" {
		cfg.Source = paper.SourcePortal2
	}
	if cfg.MaxSiblings <= 0 {
		cfg.MaxSiblings = DefaultMaxSiblings
	}
	if cfg.SkipFolders == nil {
		cfg.SkipFolders = DefaultSkipFolders
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = harvest.NewRetryPolicy(2, 300*time.Millisecond, time.Second)
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if cfg.UnwindTimeout <= 0 {
		cfg.UnwindTimeout = DefaultUnwind
	}
	return &Harvester{browser: browser, cfg: cfg, logger: logger}
}

// Harvest opens one session, walks the tree and closes the session on
// every exit path. Session start-up failures and a lost navigation
// position are fatal; everything else is logged and skipped.
func (h *Harvester) Harvest(ctx context.Context, req harvest.Request, stop *harvest.StopSignal, yield harvest.Yield) error {
	session, err := h.browser.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("start browser session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			h.logger.Warn("closing browser session failed", zap.Error(cerr))
		}
	}()

	if err := session.Open(ctx, h.cfg.URL); err != nil {
		return fmt.Errorf("open %s: %w", h.cfg.URL, err)
	}
	nav := &navigator{
		session:      session,
		rootURL:      h.cfg.URL,
		retry:        h.cfg.Retry,
		readyTimeout: h.cfg.ReadyTimeout,
		settle:       h.cfg.Settle,
		unwind:       h.cfg.UnwindTimeout,
		logger:       h.logger,
	}
	nav.wait(ctx)

	w := &walker{h: h, nav: nav, req: req, stop: stop, yield: yield}
	err = w.visit(ctx, levelRoot, "")
	if errors.Is(err, errConsumerDone) {
		return nil
	}
	return err
}

type walker struct {
	h     *Harvester
	nav   *navigator
	req   harvest.Request
	stop  *harvest.StopSignal
	yield harvest.Yield
}

// visit processes the current level: papers first, then each folder in
// turn. Only errConsumerDone, ErrNavigationLost and a failed root listing
// propagate; folder-level failures are logged and the folder skipped.
func (w *walker) visit(ctx context.Context, level int, year string) error {
	if harvest.Halted(ctx, w.stop) {
		return nil
	}
	logger := w.h.logger.With(zap.Strings("path", w.nav.breadcrumbs()))
	listing, err := w.nav.listing(ctx, w.stop)
	if err != nil {
		if level == levelRoot {
			return fmt.Errorf("read root listing: %w", err)
		}
		return err
	}

	if level >= levelSession {
		if err := w.emit(ctx, listing.Documents, year); err != nil {
			return err
		}
	}
	if level >= levelSubject {
		return nil
	}

	folders := listing.Folders
	if len(folders) > w.h.cfg.MaxSiblings {
		logger.Info("capping sibling folders", zap.Int("found", len(folders)), zap.Int("cap", w.h.cfg.MaxSiblings))
		folders = folders[:w.h.cfg.MaxSiblings]
	}
	for _, folder := range folders {
		if harvest.Halted(ctx, w.stop) {
			return nil
		}
		if w.h.skipped(folder.Name) {
			logger.Debug("skipping administrative folder", zap.String("folder", folder.Name))
			continue
		}
		folderYear := year
		if level == levelRoot {
			folderYear = firstNonEmpty(extract.Year(folder.Name), folder.Name)
			if !w.req.WantsYear(folderYear) {
				continue
			}
			logger.Info("processing year", zap.String("folder", folder.Name))
		}

		err := w.nav.within(ctx, w.stop, folder, func() error {
			return w.visit(ctx, level+1, folderYear)
		})
		switch {
		case err == nil:
		case errors.Is(err, errConsumerDone), errors.Is(err, ErrNavigationLost):
			return err
		default:
			logger.Warn("skipping folder", zap.String("folder", folder.Name), zap.Error(err))
		}
	}
	return nil
}

func (w *walker) emit(ctx context.Context, docs []Entry, year string) error {
	labels := w.nav.breadcrumbs()
	if len(labels) > 0 {
		labels = labels[1:]
	}
	for _, doc := range docs {
		if harvest.Halted(ctx, w.stop) {
			return nil
		}
		rec, ok := extract.Extract(doc.URL, doc.Name, labels)
		if !ok {
			w.h.logger.Warn("skipping document without locator", zap.String("title", doc.Name))
			continue
		}
		if year != "" {
			rec.Year = year
		}
		rec.Source = w.h.cfg.Source
		if !w.yield(rec) {
			return errConsumerDone
		}
	}
	return nil
}

func (h *Harvester) skipped(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range h.cfg.SkipFolders {
		if s != "" && strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

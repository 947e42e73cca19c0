// Package headless drives a headless Chrome tab through a postback-driven
// folder portal.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/paper-harvester/internal/harvest/tree"
)

// Navigation errors reported by Session.
var (
	ErrStaleElement = errors.New("folder anchor no longer matches listing")
	ErrNoBackLink   = errors.New("no parent-folder link on page")
)

// Config controls the behavior of the headless browser.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	PollInterval      time.Duration
}

// Browser implements tree.Browser. Every session gets its own Chrome
// process, which is torn down by Session.Close.
type Browser struct {
	cfg  Config
	opts []chromedp.ExecAllocatorOption
}

// NewChromedp creates a browser factory backed by chromedp.
func NewChromedp(cfg Config) (*Browser, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1920, 1080),
	)
	return &Browser{cfg: cfg, opts: opts}, nil
}

// NewSession starts Chrome and opens a blank tab.
func (b *Browser) NewSession(ctx context.Context) (tree.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	s := &Session{
		cfg:  b.cfg,
		tab:  tabCtx,
		meta: newResponseMeta(),
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}
	chromedp.ListenTarget(tabCtx, s.meta.captureEvent)

	// The first Run allocates the browser and must use the undecorated tab
	// context; a deadline on it would kill Chrome when it fires.
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(tabCtx, s.setupAction())
	}()
	timer := time.NewTimer(b.cfg.NavigationTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			s.cancel()
			return nil, fmt.Errorf("start chrome: %w", err)
		}
		return s, nil
	case <-ctx.Done():
		s.cancel()
		return nil, fmt.Errorf("start chrome: %w", ctx.Err())
	case <-timer.C:
		s.cancel()
		return nil, fmt.Errorf("start chrome: no response after %s", b.cfg.NavigationTimeout)
	}
}

// Session implements tree.Session over one Chrome tab.
type Session struct {
	cfg       Config
	tab       context.Context
	meta      *responseMeta
	cancel    func()
	closeOnce sync.Once
}

// Open navigates to url and checks the document status.
func (s *Session) Open(ctx context.Context, url string) error {
	runCtx, cancel := s.bound(ctx)
	defer cancel()
	s.meta.reset()
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if status := s.meta.status(); status >= 400 {
		return fmt.Errorf("navigate %s: status %d", url, status)
	}
	return nil
}

// Listing snapshots the DOM and parses the folder and document anchors.
func (s *Session) Listing(ctx context.Context) (tree.Listing, error) {
	var html, location string
	runCtx, cancel := s.bound(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return tree.Listing{}, fmt.Errorf("snapshot listing: %w", err)
	}
	return ParseListing(html, location)
}

// Click selects the folder anchor at folder.Index after checking that it
// still carries folder.Name.
func (s *Session) Click(ctx context.Context, folder tree.Entry) error {
	script, err := clickScript(folder)
	if err != nil {
		return err
	}
	var clicked bool
	runCtx, cancel := s.bound(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &clicked)); err != nil {
		return fmt.Errorf("click %q: %w", folder.Name, err)
	}
	if !clicked {
		return fmt.Errorf("click %q at %d: %w", folder.Name, folder.Index, ErrStaleElement)
	}
	return nil
}

// Back follows the portal's parent-folder link.
func (s *Session) Back(ctx context.Context) error {
	var clicked bool
	runCtx, cancel := s.bound(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(backScript, &clicked)); err != nil {
		return fmt.Errorf("go back: %w", err)
	}
	if !clicked {
		return ErrNoBackLink
	}
	return nil
}

// WaitReady polls until the document is complete, no ASP.NET partial
// postback is in flight and the page that issued the last Click or Back has
// been replaced.
func (s *Session) WaitReady(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		var ready bool
		pollCtx, cancel := context.WithTimeout(s.tab, s.cfg.PollInterval*5)
		err := chromedp.Run(pollCtx, chromedp.Evaluate(readyScript, &ready))
		cancel()
		if err == nil && ready {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
	}
}

// Close shuts the tab and the Chrome process. Later calls are no-ops.
func (s *Session) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

// bound derives a context from the tab that also ends with ctx or after
// the navigation timeout.
func (s *Session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.tab, s.cfg.NavigationTimeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// pageToken identifies the rendered page. A postback replaces the view state
// even when the URL stays the same.
const pageToken = `(location.href + "|" + (function () {
  var vs = document.getElementById("__VIEWSTATE");
  return vs ? vs.value.length + ":" + vs.value.slice(-32) : "";
})())`

// markPending records the outgoing page so readyScript can tell it apart
// from the one the click leads to.
const markPending = `window.__harvestPending = ` + pageToken + `;`

const readyScript = `document.readyState === "complete" &&
!(window.Sys && Sys.WebForms && Sys.WebForms.PageRequestManager &&
  Sys.WebForms.PageRequestManager.getInstance().get_isInAsyncPostBack()) &&
(window.__harvestPending === undefined || window.__harvestPending !== ` + pageToken + `)`

const backScript = `(function () {
  var links = Array.prototype.slice.call(document.querySelectorAll("a"));
  var up = links.find(function (a) { return a.textContent.trim() === ".."; }) ||
    document.querySelector("a[title='Go Back']");
  if (!up) { return false; }
  ` + markPending + `
  up.click();
  return true;
})()`

func clickScript(folder tree.Entry) (string, error) {
	name, err := json.Marshal(folder.Name)
	if err != nil {
		return "", fmt.Errorf("encode folder name: %w", err)
	}
	return fmt.Sprintf(`(function (i, name) {
  var anchors = document.querySelectorAll(%q);
  if (i < 0 || i >= anchors.length) { return false; }
  if (anchors[i].textContent.replace(/\s+/g, " ").trim() !== name) { return false; }
  %s
  anchors[i].click();
  return true;
})(%d, %s)`, folderSelector, markPending, folder.Index, name), nil
}

type responseMeta struct {
	mu   sync.RWMutex
	code int
	url  string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.code = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.code, m.url = 0, ""
	m.mu.Unlock()
}

package headless

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/paper-harvester/internal/harvest/tree"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{NavigationTimeout: -time.Second}); err == nil {
		t.Fatal("expected error for negative navigation timeout")
	}
	browser, err := NewChromedp(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if browser.cfg.NavigationTimeout != 45*time.Second {
		t.Fatalf("expected default nav timeout, got %v", browser.cfg.NavigationTimeout)
	}
	if browser.cfg.PollInterval != 100*time.Millisecond {
		t.Fatalf("expected default poll interval, got %v", browser.cfg.PollInterval)
	}
	var _ tree.Browser = browser
	var _ tree.Session = (*Session)(nil)
}

func TestClickScriptEscapesName(t *testing.T) {
	t.Parallel()

	script, err := clickScript(tree.Entry{Index: 7, Name: `III Sem "Chemical"`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(script, `})(7, "III Sem \"Chemical\"")`) {
		t.Fatalf("expected index and escaped name in script, got %s", script)
	}
	if !strings.Contains(script, `document.querySelectorAll("a[href*='__doPostBack']")`) {
		t.Fatalf("expected folder selector in script, got %s", script)
	}
}

func TestNavigationScriptsMarkOutgoingPage(t *testing.T) {
	t.Parallel()

	click, err := clickScript(tree.Entry{Index: 0, Name: "2019"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for name, script := range map[string]string{"click": click, "back": backScript} {
		mark := strings.Index(script, "window.__harvestPending = ")
		fire := strings.Index(script, ".click();")
		if mark < 0 || fire < 0 || mark > fire {
			t.Fatalf("%s script must mark the page before clicking, got %s", name, script)
		}
		if !strings.Contains(script, `getElementById("__VIEWSTATE")`) {
			t.Fatalf("%s script must include the view state in the page token", name)
		}
	}
	if !strings.Contains(readyScript, "window.__harvestPending !== "+pageToken) {
		t.Fatalf("ready check must wait for the marked page to change, got %s", readyScript)
	}
	if !strings.HasPrefix(readyScript, `document.readyState === "complete"`) {
		t.Fatalf("ready check must still require a complete document, got %s", readyScript)
	}
}

func TestResponseMetaCaptureAndReset(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404},
	})
	if meta.status() != 0 {
		t.Fatalf("non-document responses must be ignored, got %d", meta.status())
	}
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 503,
			URL:    "https://portal.test/Question%20Paper.aspx",
		},
	})
	if meta.status() != 503 {
		t.Fatalf("expected captured status, got %d", meta.status())
	}
	meta.reset()
	if meta.status() != 0 {
		t.Fatalf("expected reset status, got %d", meta.status())
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	calls := 0
	s := &Session{cancel: func() { calls++ }}
	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected cancel once, got %d", calls)
	}
}

func TestNoopBrowserError(t *testing.T) {
	t.Parallel()

	if _, err := NewNoop().NewSession(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

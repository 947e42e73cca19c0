// Package tree harvests a portal whose papers sit in a server-rendered
// folder hierarchy that is only navigable through simulated clicks in a
// single browser session.
package tree

import (
	"context"
	"time"
)

// Entry is one anchor in the current listing. Index is the anchor's
// position among the page's navigation anchors; URL is set for documents.
type Entry struct {
	Index int
	Name  string
	URL   string
}

// Listing is the set of folders and documents visible at the session's
// current position.
type Listing struct {
	Folders   []Entry
	Documents []Entry
}

// Session drives one remote browser tab. Implementations are not safe for
// concurrent use.
type Session interface {
	// Open loads url, resetting the navigation position to its root.
	Open(ctx context.Context, url string) error
	// Listing reads the folders and documents currently displayed.
	Listing(ctx context.Context) (Listing, error)
	// Click descends into a folder. It fails when the anchor at
	// folder.Index no longer carries folder.Name.
	Click(ctx context.Context, folder Entry) error
	// Back returns to the parent folder.
	Back(ctx context.Context) error
	// WaitReady polls for the page to settle. It reports false when the
	// timeout elapsed first.
	WaitReady(ctx context.Context, timeout time.Duration) bool
	// Close releases the browser. It is called exactly once per session.
	Close() error
}

// Browser creates sessions.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
}

// BrowserFunc adapts a function to Browser.
type BrowserFunc func(ctx context.Context) (Session, error)

// NewSession calls f.
func (f BrowserFunc) NewSession(ctx context.Context) (Session, error) {
	return f(ctx)
}

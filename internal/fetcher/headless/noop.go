package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/paper-harvester/internal/harvest/tree"
)

// ErrDisabled is returned when browser sessions are turned off.
var ErrDisabled = errors.New("headless browser not configured")

// Noop implements tree.Browser but never starts a session, so folder-tree
// jobs fail fast on hosts without Chrome.
type Noop struct{}

// NewNoop creates a new Noop browser.
func NewNoop() *Noop {
	return &Noop{}
}

// NewSession returns ErrDisabled.
func (Noop) NewSession(context.Context) (tree.Session, error) {
	return nil, ErrDisabled
}

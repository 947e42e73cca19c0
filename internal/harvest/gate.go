package harvest

import (
	"context"
	"fmt"

	"github.com/JakeFAU/paper-harvester/internal/paper"
)

// Lookup is the subset of paper.Store the gate needs.
type Lookup interface {
	ExistsByURL(ctx context.Context, sourceURL string) (bool, error)
	ExistsByFingerprint(ctx context.Context, fp paper.Fingerprint) (bool, error)
}

// Reason names the check that classified a record as a duplicate.
type Reason string

// Gate verdicts.
const (
	ReasonNone        Reason = ""
	ReasonURL         Reason = "source url"
	ReasonFingerprint Reason = "fingerprint"
)

// Gate rejects records already represented in the store.
type Gate struct {
	lookup Lookup
}

// NewGate builds a Gate over the store.
func NewGate(lookup Lookup) *Gate {
	return &Gate{lookup: lookup}
}

// Check returns which check fired, or ReasonNone for a new record. The
// fingerprint check only runs when subject code and year are known.
func (g *Gate) Check(ctx context.Context, rec paper.Record) (Reason, error) {
	exists, err := g.lookup.ExistsByURL(ctx, rec.SourceURL)
	if err != nil {
		return ReasonNone, fmt.Errorf("lookup by url: %w", err)
	}
	if exists {
		return ReasonURL, nil
	}
	fp := rec.Fingerprint()
	if !fp.Usable() {
		return ReasonNone, nil
	}
	exists, err = g.lookup.ExistsByFingerprint(ctx, fp)
	if err != nil {
		return ReasonNone, fmt.Errorf("lookup by fingerprint: %w", err)
	}
	if exists {
		return ReasonFingerprint, nil
	}
	return ReasonNone, nil
}

// IsDuplicate reports whether either check fired.
func (g *Gate) IsDuplicate(ctx context.Context, rec paper.Record) (bool, error) {
	reason, err := g.Check(ctx, rec)
	if err != nil {
		return false, err
	}
	return reason != ReasonNone, nil
}

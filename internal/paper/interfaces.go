package paper

import (
	"context"
	"io"
	"time"
)

// Store persists records and answers the dedup and query lookups.
type Store interface {
	ExistsByURL(ctx context.Context, sourceURL string) (bool, error)
	ExistsByFingerprint(ctx context.Context, fp Fingerprint) (bool, error)
	Add(ctx context.Context, rec Record) (string, error)
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
	Search(ctx context.Context, term string, limit int) ([]Record, error)
	Distinct(ctx context.Context, field Field) ([]string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes ingestion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

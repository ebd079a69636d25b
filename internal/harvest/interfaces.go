package harvest

import (
	"context"
	"time"
)

// RecordSource produces pages of raw records from the search API.
type RecordSource interface {
	// Count returns the advertised total hit count for a query.
	Count(ctx context.Context, query string) (int, error)
	// Page fetches one page starting at the given offset. When stable is
	// true the source applies its stable sort key so offsets mean the same
	// thing across invocations. The result carries one record per record
	// the source served for the window; checkpoint math depends on that.
	Page(ctx context.Context, query string, start, rows int, stable bool) ([]RawRecord, error)
	// Search fetches every page for a query up to maxRows (0 = no cap).
	Search(ctx context.Context, query string, maxRows int) ([]RawRecord, error)
}

// PageFetcher renders a detail page in a browser session and returns the
// resulting markup. One session belongs to one worker at a time.
type PageFetcher interface {
	Render(ctx context.Context, url string) (string, error)
	Close() error
}

// SessionFactory hands out browser sessions, one per worker.
type SessionFactory interface {
	NewSession(ctx context.Context) (PageFetcher, error)
}

// SessionFactoryFunc adapts a function to the SessionFactory interface.
type SessionFactoryFunc func(ctx context.Context) (PageFetcher, error)

// NewSession calls the wrapped function.
func (f SessionFactoryFunc) NewSession(ctx context.Context) (PageFetcher, error) {
	return f(ctx)
}

// Extractor recovers structured fields from rendered markup. Strategy
// misses are not errors; the error is reserved for markup that cannot be
// parsed as a document at all.
type Extractor interface {
	Extract(markup string, baseURL string) (ExtractedFields, error)
}

// CheckpointStore persists the single-integer resume offset.
type CheckpointStore interface {
	// Load returns the saved offset; a missing or corrupt checkpoint
	// yields zero, never an error.
	Load() int
	// Save overwrites the offset atomically from the caller's perspective.
	Save(offset int) error
}

// BlobStore writes archived artifacts and reports on existing ones.
type BlobStore interface {
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
	// Stat returns the stored object size, or ErrObjectNotFound.
	Stat(ctx context.Context, key string) (int64, error)
}

// Publisher pushes protocol-found events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// EntrySink receives harvest entries as they are produced.
type EntrySink interface {
	Append(entry HarvestEntry) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

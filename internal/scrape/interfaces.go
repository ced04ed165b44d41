package scrape

import (
	"context"
	"time"
)

// Fetcher retrieves one document. Implementations must release any transport
// resources they open on every exit path.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Document is one parsed response ready for field resolution.
type Document interface {
	// Extract resolves the field spec tree into a record.
	Extract(fields []FieldSpec) (Record, error)
	// SelectAttribute returns the named attribute of the first element
	// matching sel. The second result is false when nothing matched.
	SelectAttribute(sel Selector, attribute string) (string, bool)
	// SelectAttributeAll returns the named attribute of every element
	// matching sel, skipping elements without it.
	SelectAttributeAll(sel Selector, attribute string) []string
}

// Parser turns a response body into a Document.
type Parser interface {
	Parse(body []byte) (Document, error)
}

// RobotsPolicy answers crawl-policy questions per URL.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// TokenSource yields a currently-valid bearer token, refreshing if needed.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for content keys and artifact naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

package metadata

import (
	"context"
	"time"
)

// Fetcher performs one HTTP GET against a target URL and returns its headers,
// cookies, and page source. Failures are reported as *FetchError for
// transport-level problems and *UpstreamStatusError for non-2xx responses.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Store persists metadata records keyed by URL.
type Store interface {
	// Get returns the record for url, or ErrNotFound.
	Get(ctx context.Context, url string) (Record, error)

	// Upsert inserts or updates the record in one atomic write. On insert
	// CreatedAt is set to now; on update every field except CreatedAt is
	// overwritten and UpdatedAt is set to now. The returned record is the
	// persisted view, which is authoritative for CreatedAt when concurrent
	// first-writes race.
	Upsert(ctx context.Context, record Record, now time.Time) (Record, error)
}

// Publisher pushes collection events to a message bus (or similar). The
// destination is fixed at construction time; Publish returns the broker's
// message ID.
type Publisher interface {
	Publish(ctx context.Context, event CollectionEvent) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

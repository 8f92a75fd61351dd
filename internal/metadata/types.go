// Package metadata defines the shared types, interfaces, and errors for the
// URL metadata inventory service.
package metadata

import "time"

// Record is the persisted metadata entity for one URL. The URL is the unique
// key and is immutable after creation; every other field is replaced wholesale
// on each successful collection. CreatedAt is set exactly once, at the first
// successful collection, and never changes afterwards.
type Record struct {
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers"`
	Cookies    map[string]string `json:"cookies"`
	PageSource string            `json:"page_source"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// FetchResult is the raw output of one HTTP GET against a target URL.
type FetchResult struct {
	StatusCode int
	Headers    map[string]string
	Cookies    map[string]string
	Body       string
	Duration   time.Duration
}

// CollectionEvent is published after a successful collection when a
// Publisher is configured.
type CollectionEvent struct {
	URL         string    `json:"url"`
	StatusCode  int       `json:"status_code"`
	BodyBytes   int       `json:"body_bytes"`
	CollectedAt time.Time `json:"collected_at"`
}

package metadata

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Store.Get when no record exists for a URL.
var ErrNotFound = errors.New("metadata record not found")

// FetchError reports a transport-level fetch failure (timeout, connection
// refused, DNS). It is surfaced to synchronous callers and swallowed (logged)
// by background collection jobs.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// UpstreamStatusError reports that the remote responded with a non-success
// HTTP status.
type UpstreamStatusError struct {
	URL        string
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("fetch %s: upstream returned HTTP %d", e.URL, e.StatusCode)
}

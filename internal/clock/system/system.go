// Package system provides a real clock implementation.
package system

import "time"

// Clock implements metadata.Clock using time.Now. All timestamps in the
// service are UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

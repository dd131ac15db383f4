// Package system provides real and pinned clock implementations.
package system

import "time"

// Clock implements ingest.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Pinned implements ingest.Clock by always reporting the same instant. It
// drives preset backfills for a past date.
type Pinned struct {
	t time.Time
}

// At returns a clock pinned to t.
func At(t time.Time) Pinned {
	return Pinned{t: t.UTC()}
}

// Now returns the pinned instant in UTC.
func (p Pinned) Now() time.Time {
	return p.t
}

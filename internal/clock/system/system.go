// Package system provides the wall clock used for record and job
// timestamps.
package system

import "time"

// Clock implements paper.Clock and harvest status timestamps.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

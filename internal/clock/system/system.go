// Package system reads the wall clock for checkpoints and export stamps.
package system

import (
	"fmt"
	"time"
)

// Clock implements crawler.Clock. The zero value reports UTC.
type Clock struct {
	loc *time.Location
}

// In returns a Clock that reports times in the named IANA zone. An empty
// name selects UTC.
func In(zone string) (Clock, error) {
	if zone == "" {
		return Clock{}, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Clock{}, fmt.Errorf("load time zone %q: %w", zone, err)
	}
	return Clock{loc: loc}, nil
}

// Now returns the current time in the clock's zone.
func (c Clock) Now() time.Time {
	if c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}

// Location reports the zone Now uses.
func (c Clock) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

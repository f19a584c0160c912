// Package clock is the single source of "now" for scheduling decisions.
package clock

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Clock supplies the authoritative current time.
type Clock interface {
	Now() time.Time
}

type wallClock struct {
	loc *time.Location
}

func (c wallClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// New returns a wall clock reporting in the named zone. If the zone
// database is unavailable, a fixed offset is parsed from names like
// "UTC+05:30"; anything else falls back to UTC.
func New(tz string) Clock {
	return wallClock{loc: Location(tz)}
}

// Location resolves tz to a location with a fixed-offset fallback.
func Location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err == nil {
		return loc
	}
	if off, ok := parseOffset(tz); ok {
		return time.FixedZone(tz, off)
	}
	slog.Warn("unknown timezone, using UTC", "timezone", tz, "error", err)
	return time.UTC
}

// parseOffset reads "UTC+05:30", "+0530" or "-3" into seconds east of UTC.
func parseOffset(s string) (int, bool) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.ToUpper(s), "UTC"), "GMT")
	if len(s) < 2 || (s[0] != '+' && s[0] != '-') {
		return 0, false
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	s = strings.ReplaceAll(s[1:], ":", "")
	var h, m int
	var err error
	switch len(s) {
	case 1, 2:
		h, err = strconv.Atoi(s)
	case 4:
		h, err = strconv.Atoi(s[:2])
		if err == nil {
			m, err = strconv.Atoi(s[2:])
		}
	default:
		return 0, false
	}
	if err != nil || h > 14 || m > 59 {
		return 0, false
	}
	return sign * (h*3600 + m*60), true
}

// Fixed is a clock that always reports the same instant. Tests move it with Set.
type Fixed struct {
	T time.Time
}

func (f *Fixed) Now() time.Time { return f.T }

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) { f.T = t }

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) { f.T = f.T.Add(d) }

// Package isodate handles the ISO calendar dates (YYYY-MM-DD) the engine
// stores. Dates travel as strings; this package owns the parsing and
// comparison rules so every layer agrees on them.
package isodate

import (
	"fmt"
	"time"
)

// Layout is the stored calendar date form.
const Layout = "2006-01-02"

// StampLayout is the audit timestamp form (RFC 3339, UTC).
const StampLayout = "2006-01-02T15:04:05Z"

// Valid reports whether s is a real calendar date in YYYY-MM-DD form.
func Valid(s string) bool {
	_, err := time.Parse(Layout, s)
	return err == nil
}

// Parse parses a YYYY-MM-DD date.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// Format renders t as a stored date.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Today returns the current UTC date.
func Today() string {
	return time.Now().UTC().Format(Layout)
}

// Stamp returns the current UTC audit timestamp.
func Stamp() string {
	return time.Now().UTC().Format(StampLayout)
}

// Before reports whether date a sorts before b. ISO dates compare correctly
// as text, so this works for any two valid dates.
func Before(a, b string) bool {
	return a < b
}

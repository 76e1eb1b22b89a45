package catalog

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayout is the catalog's canonical timestamp shape: UTC ISO-8601
// with millisecond precision and a trailing Z.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t for the catalog. The value is normalised to UTC
// first so a local time can never leak into a document.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses a catalog timestamp. Strings without the trailing Z
// are rejected outright: a zone-less or offset timestamp means some writer
// leaked local time, and guessing a zone here would corrupt every window
// computation downstream.
func ParseTimestamp(s string) (time.Time, error) {
	if !strings.HasSuffix(s, "Z") {
		return time.Time{}, fmt.Errorf("timestamp %q is not UTC ISO-8601 with Z", s)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

package domain

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	hourKeyLayout = "2006-01-02T15"
	dayKeyLayout  = "2006-01-02"
)

// HourKey buckets t by calendar day and hour (UTC), e.g. "2026-10-19T14".
func HourKey(t time.Time) string {
	return t.UTC().Format(hourKeyLayout)
}

// ParseHourKey is the inverse of HourKey.
func ParseHourKey(key string) (time.Time, error) {
	return time.ParseInLocation(hourKeyLayout, key, time.UTC)
}

// DayKey buckets t by calendar day (UTC).
func DayKey(t time.Time) string {
	return t.UTC().Format(dayKeyLayout)
}

// Slugify lowercases name and keeps ASCII letters and digits. Any other run of
// characters collapses into a single '-'. An empty result becomes "service".
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingDash := false
	for _, r := range strings.ToLower(name) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	if b.Len() == 0 {
		return "service"
	}
	return b.String()
}

// SlugCandidate returns base for attempt 0 and base-N afterwards.
func SlugCandidate(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return base + "-" + strconv.Itoa(attempt)
}

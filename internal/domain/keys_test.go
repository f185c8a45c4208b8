package domain

import (
	"testing"
	"time"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "simple", in: "api", want: "api"},
		{name: "uppercase", in: "Checkout API", want: "checkout-api"},
		{name: "punctuation runs collapse", in: "my -- service!!", want: "my-service"},
		{name: "leading and trailing junk", in: "  __orders__  ", want: "orders"},
		{name: "non ascii dropped", in: "café-crème", want: "caf-cr-me"},
		{name: "digits kept", in: "v2 Billing", want: "v2-billing"},
		{name: "empty falls back", in: "???", want: "service"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSlugCandidate(t *testing.T) {
	if got := SlugCandidate("api", 0); got != "api" {
		t.Errorf("SlugCandidate(api, 0) = %q, want api", got)
	}
	if got := SlugCandidate("api", 2); got != "api-2" {
		t.Errorf("SlugCandidate(api, 2) = %q, want api-2", got)
	}
}

func TestHourKeyDistinctAcrossDays(t *testing.T) {
	day1 := time.Date(2026, 10, 18, 14, 5, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	if HourKey(day1) == HourKey(day2) {
		t.Fatalf("same hour on different days must not collide: %s", HourKey(day1))
	}
	if HourKey(day1) != "2026-10-18T14" {
		t.Errorf("HourKey() = %s, want 2026-10-18T14", HourKey(day1))
	}

	parsed, err := ParseHourKey(HourKey(day1))
	if err != nil {
		t.Fatalf("ParseHourKey() error: %v", err)
	}
	if !parsed.Equal(day1.Truncate(time.Hour)) {
		t.Errorf("ParseHourKey() = %v, want %v", parsed, day1.Truncate(time.Hour))
	}
}

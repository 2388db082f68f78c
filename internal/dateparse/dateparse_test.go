package dateparse

import (
	"testing"
	"time"
)

// Wednesday 2026-03-11 10:30 UTC
var ref = time.Date(2026, 3, 11, 10, 30, 0, 0, time.UTC)

func TestParseKickoffFrom(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2026-03-14T18:00:00Z", time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)},
		{"2026-03-14", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"2026-03-14 18:30", time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)},
		{"today 20:00", time.Date(2026, 3, 11, 20, 0, 0, 0, time.UTC)},
		{"Tomorrow", time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)},
		{"+3d 09:15", time.Date(2026, 3, 14, 9, 15, 0, 0, time.UTC)},
		{"+2w", time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)},
		{"saturday 18:00", time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)},
		{"wednesday", time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC)},
		{"  monday  ", time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKickoffFrom(tt.input, ref)
			if err != nil {
				t.Fatalf("ParseKickoffFrom(%q): %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseKickoffFrom(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseKickoffFromErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"   ",
		"someday",
		"+3y",
		"+d",
		"2026-13-01",
		"today 25:00",
		"today 18:00 sharp",
	} {
		t.Run(input, func(t *testing.T) {
			if _, err := ParseKickoffFrom(input, ref); err == nil {
				t.Errorf("ParseKickoffFrom(%q) succeeded, want error", input)
			}
		})
	}
}

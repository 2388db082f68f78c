// Package dateparse parses the kickoff times users type on the command line.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseKickoff parses a kickoff time relative to time.Now.
//
// Accepted forms, each optionally followed by a clock time "HH:MM":
//   - RFC 3339 timestamps: "2026-03-14T18:00:00Z" (no clock suffix)
//   - Dates: "2026-03-14"
//   - Keywords: "today", "tomorrow"
//   - Relative days and weeks: "+3d", "+2w"
//   - Day names: "saturday" (next occurrence, never today)
//
// Without a clock time the kickoff is midnight local time.
func ParseKickoff(input string) (time.Time, error) {
	return ParseKickoffFrom(input, time.Now())
}

// ParseKickoffFrom is ParseKickoff with a fixed reference time.
func ParseKickoffFrom(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, fmt.Errorf("empty kickoff time")
	}
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}

	fields := strings.Fields(strings.ToLower(input))
	if len(fields) > 2 {
		return time.Time{}, fmt.Errorf("unrecognized kickoff time %q", input)
	}
	day, err := parseDay(fields[0], now)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute := 0, 0
	if len(fields) == 2 {
		clock, err := time.Parse("15:04", fields[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("clock time %q must be HH:MM", fields[1])
		}
		hour, minute = clock.Hour(), clock.Minute()
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, now.Location()), nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseDay(s string, now time.Time) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}

	switch s {
	case "today":
		return now, nil
	case "tomorrow":
		return now.AddDate(0, 0, 1), nil
	}

	if strings.HasPrefix(s, "+") && len(s) >= 3 {
		n, err := strconv.Atoi(s[1 : len(s)-1])
		if err == nil && n >= 0 {
			switch s[len(s)-1] {
			case 'd':
				return now.AddDate(0, 0, n), nil
			case 'w':
				return now.AddDate(0, 0, n*7), nil
			default:
				return time.Time{}, fmt.Errorf("unknown relative unit %q in %q (use d or w)", s[len(s)-1:], s)
			}
		}
	}

	if target, ok := weekdays[s]; ok {
		ahead := (int(target) - int(now.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return now.AddDate(0, 0, ahead), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized kickoff day %q", s)
}

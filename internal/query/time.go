package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/memento-engine/memengine/internal/memerr"
)

// TimeRange is an inclusive [Start, End] window (spec §4.10 "Ranges").
type TimeRange struct {
	Start time.Time
	End   time.Time
}

var relativeAgoRE = regexp.MustCompile(`^(\d+)\s*(second|minute|hour|day|week|month|year)s?\s+ago$`)

// ParseTimeRange parses query per the natural-language time grammar (spec
// §4.10) relative to now, returning the inclusive window it denotes.
// Unparseable input returns an InvalidInput *memerr.Error naming the
// offending substring.
func ParseTimeRange(query string, now time.Time) (TimeRange, error) {
	q := strings.TrimSpace(query)
	lower := strings.ToLower(q)

	switch {
	case strings.HasPrefix(lower, "between ") && strings.Contains(lower, " and "):
		rest := q[len("between "):]
		parts := splitOnce(rest, " and ", " AND ")
		if parts == nil {
			return TimeRange{}, invalidTime(query)
		}
		t1, err := ParseTimestamp(strings.TrimSpace(parts[0]), now)
		if err != nil {
			return TimeRange{}, err
		}
		t2, err := ParseTimestamp(strings.TrimSpace(parts[1]), now)
		if err != nil {
			return TimeRange{}, err
		}
		return TimeRange{Start: t1, End: t2}, nil

	case strings.HasPrefix(lower, "since "):
		t, err := ParseTimestamp(strings.TrimSpace(q[len("since "):]), now)
		if err != nil {
			return TimeRange{}, err
		}
		return TimeRange{Start: t, End: now}, nil

	case strings.HasPrefix(lower, "before "):
		t, err := ParseTimestamp(strings.TrimSpace(q[len("before "):]), now)
		if err != nil {
			return TimeRange{}, err
		}
		return TimeRange{Start: time.Time{}, End: t}, nil
	}

	t, err := ParseTimestamp(q, now)
	if err != nil {
		return TimeRange{}, err
	}
	switch lower {
	case "last week", "this week":
		return TimeRange{Start: t, End: t.AddDate(0, 0, 7).Add(-time.Second)}, nil
	case "last month", "this month":
		return TimeRange{Start: t, End: t.AddDate(0, 1, 0).Add(-time.Second)}, nil
	case "last year", "this year":
		return TimeRange{Start: t, End: t.AddDate(1, 0, 0).Add(-time.Second)}, nil
	}
	return dayBounds(t), nil
}

// ParseTimestamp parses a single absolute or relative time token (spec
// §4.10). For day-level tokens ("yesterday", "today", "last week", etc.)
// it returns the start of that granule; callers that need the full day
// should call dayBounds.
func ParseTimestamp(token string, now time.Time) (time.Time, error) {
	token = strings.TrimSpace(token)
	lower := strings.ToLower(token)

	switch lower {
	case "today":
		return startOfDay(now), nil
	case "yesterday":
		return startOfDay(now.AddDate(0, 0, -1)), nil
	case "last week":
		return startOfWeek(now.AddDate(0, 0, -7)), nil
	case "this week":
		return startOfWeek(now), nil
	case "last month":
		return startOfMonth(now.AddDate(0, -1, 0)), nil
	case "this month":
		return startOfMonth(now), nil
	case "last year":
		return startOfYear(now.AddDate(-1, 0, 0)), nil
	case "this year":
		return startOfYear(now), nil
	}

	if m := relativeAgoRE.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		return subtractUnit(now, m[2], n), nil
	}

	if t, err := time.Parse(time.RFC3339, token); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", token, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", token, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", token, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", token, time.Local); err == nil {
		return t, nil
	}

	return time.Time{}, invalidTime(token)
}

func subtractUnit(now time.Time, unit string, n int) time.Time {
	switch unit {
	case "second":
		return now.Add(-time.Duration(n) * time.Second)
	case "minute":
		return now.Add(-time.Duration(n) * time.Minute)
	case "hour":
		return now.Add(-time.Duration(n) * time.Hour)
	case "day":
		return now.AddDate(0, 0, -n)
	case "week":
		return now.AddDate(0, 0, -7*n)
	case "month":
		return now.AddDate(0, -n, 0)
	case "year":
		return now.AddDate(-n, 0, 0)
	default:
		return now
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfWeek(t time.Time) time.Time {
	d := startOfDay(t)
	offset := (int(d.Weekday()) + 6) % 7 // Monday-start week
	return d.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func startOfYear(t time.Time) time.Time {
	y, _, _ := t.Date()
	return time.Date(y, 1, 1, 0, 0, 0, 0, t.Location())
}

// dayBounds expands a day-granularity timestamp into the full-day window
// spec §4.10 mandates: start 00:00:00, end 23:59:59.
func dayBounds(t time.Time) TimeRange {
	start := startOfDay(t)
	end := time.Date(start.Year(), start.Month(), start.Day(), 23, 59, 59, 0, start.Location())
	return TimeRange{Start: start, End: end}
}

func splitOnce(s string, seps ...string) []string {
	for _, sep := range seps {
		if idx := strings.Index(s, sep); idx >= 0 {
			return []string{s[:idx], s[idx+len(sep):]}
		}
	}
	return nil
}

func invalidTime(substr string) error {
	return memerr.New(memerr.KindInvalidInput, fmt.Sprintf("unparseable time expression: %q", substr))
}

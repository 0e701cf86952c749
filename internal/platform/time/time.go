// Package time contains time related helpers: strict UTC coercion, bucket
// alignment, and the night/morning window computation used by the rule
// engine and scorer.
package time

import (
	stdtime "time"

	perr "aginosd/internal/platform/errors"
)

// BucketWidth is the fixed width of a scoring/observation bucket
const BucketWidth = 15 * stdtime.Minute

// Ptr returns a pointer to t or nil if t is zero
func Ptr(t stdtime.Time) *stdtime.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// RequireUTC coerces t to UTC and rejects anything not carrying an explicit
// offset. Go's time.Time always carries a location, so "UTC-aware" is
// enforced at the boundary (services/api) by requiring the inbound RFC3339
// string to include an offset before it is ever parsed into a time.Time;
// here we reject the zero value and normalize the location.
func RequireUTC(t stdtime.Time, field string) (stdtime.Time, error) {
	if t.IsZero() {
		return stdtime.Time{}, perr.BadTimef("%s: zero time is not a valid UTC timestamp", field)
	}
	return t.UTC(), nil
}

// BucketAlign15 floors t to the start of its enclosing 15-minute bucket, in loc
func BucketAlign15(t stdtime.Time, loc *stdtime.Location) stdtime.Time {
	lt := t.In(loc)
	minute := (lt.Minute() / 15) * 15
	return stdtime.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), minute, 0, 0, loc)
}

// BucketIndex15 returns the 0..95 index of the 15-minute bucket containing t, in loc
func BucketIndex15(t stdtime.Time, loc *stdtime.Location) int {
	lt := t.In(loc)
	return lt.Hour()*4 + lt.Minute()/15
}

// LastFinishedBucket returns the start of the most recently fully-elapsed
// 15-minute bucket as of now, in loc
func LastFinishedBucket(now stdtime.Time, loc *stdtime.Location) stdtime.Time {
	return BucketAlign15(now, loc).Add(-BucketWidth)
}

// NightWindow returns the [start, end) night window anchored on now in loc:
// the window containing now, or else the most recent one that ended before
// now. startLocal/endLocal are "HH:MM"
// local clock times; the window spans midnight when endLocal < startLocal,
// e.g. "23:00" -> "06:00" spans the two local calendar days straddling
// midnight.
func NightWindow(now stdtime.Time, loc *stdtime.Location, startLocal, endLocal string) (stdtime.Time, stdtime.Time, error) {
	sh, sm, err := ParseHHMM(startLocal)
	if err != nil {
		return stdtime.Time{}, stdtime.Time{}, perr.BadTimef("night_window.start_local_time: %v", err)
	}
	eh, em, err := ParseHHMM(endLocal)
	if err != nil {
		return stdtime.Time{}, stdtime.Time{}, perr.BadTimef("night_window.end_local_time: %v", err)
	}

	lt := now.In(loc)
	start := stdtime.Date(lt.Year(), lt.Month(), lt.Day(), sh, sm, 0, 0, loc)
	end := stdtime.Date(lt.Year(), lt.Month(), lt.Day(), eh, em, 0, 0, loc)

	spansMidnight := (eh < sh) || (eh == sh && em <= sm)

	switch {
	case !spansMidnight:
		// same-day window, e.g. 01:00 -> 05:00
		if lt.Before(start) {
			start = start.AddDate(0, 0, -1)
			end = end.AddDate(0, 0, -1)
		}
	default:
		// spans midnight, e.g. 23:00 -> 06:00
		if lt.Hour() < eh || (lt.Hour() == eh && lt.Minute() < em) {
			// still inside this morning's tail of last night's window
			start = start.AddDate(0, 0, -1)
		} else if lt.Before(start) {
			// between this morning's end and tonight's start: last night's window
			start = start.AddDate(0, 0, -1)
		} else {
			end = end.AddDate(0, 0, 1)
		}
	}
	return start, end, nil
}

// MorningWindow returns the fixed [05:00, 09:00) window in loc on now's local
// day, or on the previous day when now is before 05:00.
func MorningWindow(now stdtime.Time, loc *stdtime.Location) (stdtime.Time, stdtime.Time) {
	lt := now.In(loc)
	start := stdtime.Date(lt.Year(), lt.Month(), lt.Day(), 5, 0, 0, 0, loc)
	end := stdtime.Date(lt.Year(), lt.Month(), lt.Day(), 9, 0, 0, 0, loc)
	if lt.Before(start) {
		start = start.AddDate(0, 0, -1)
		end = end.AddDate(0, 0, -1)
	}
	return start, end
}

// ParseHHMM parses a "HH:MM" local clock time into hour, minute
func ParseHHMM(s string) (int, int, error) {
	var h, m int
	_, err := fmtSscanf(s, &h, &m)
	if err != nil {
		return 0, 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, errBadClock
	}
	return h, m, nil
}

var errBadClock = perr.BadTimef("expected HH:MM local clock time")

// fmtSscanf avoids importing fmt just for one call site's worth of parsing;
// kept tiny and dependency-free since this runs on every rule evaluation.
func fmtSscanf(s string, h, m *int) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, errBadClock
	}
	hh, ok1 := atoi2(s[0:2])
	mm, ok2 := atoi2(s[3:5])
	if !ok1 || !ok2 {
		return 0, errBadClock
	}
	*h, *m = hh, mm
	return 2, nil
}

func atoi2(s string) (int, bool) {
	if len(s) != 2 {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

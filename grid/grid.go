// Package grid holds the time arithmetic for the archive: bucket alignment
// on a fixed interval and the weekly/monthly period labels used in file
// names.
package grid

import (
	"fmt"
	"time"
)

// Floor aligns t down to the start of its bucket. Buckets are multiples of
// the interval counted from midnight UTC, so intervals must divide 24h
// evenly (config enforces this).
func Floor(t time.Time, interval time.Duration) time.Time {
	return t.UTC().Truncate(interval)
}

// Ceil aligns t up to the next bucket boundary. A t already on the boundary
// is returned unchanged.
func Ceil(t time.Time, interval time.Duration) time.Time {
	floored := Floor(t, interval)
	if floored.Equal(t.UTC()) {
		return floored
	}
	return floored.Add(interval)
}

// Sequence returns every bucket start from first to last inclusive. Both
// bounds must already be aligned.
func Sequence(first, last time.Time, interval time.Duration) []time.Time {
	if last.Before(first) {
		return nil
	}
	n := int(last.Sub(first)/interval) + 1
	seq := make([]time.Time, 0, n)
	for t := first; !t.After(last); t = t.Add(interval) {
		seq = append(seq, t)
	}
	return seq
}

// WeekLabel returns the ISO-week period label of t, e.g. "2026_W35".
func WeekLabel(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d_W%02d", year, week)
}

// MonthLabel returns the month period label of t, e.g. "2026_08_August".
func MonthLabel(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%04d_%02d_%s", t.Year(), int(t.Month()), t.Month().String())
}

// WeekStart returns Monday 00:00 UTC of t's ISO week.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	sinceMonday := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -sinceMonday)
}

// WeekEndOf returns the exclusive end (next Monday 00:00 UTC) of an ISO
// week given by year and week number. January 4th is always inside week 1.
func WeekEndOf(isoYear, isoWeek int) time.Time {
	jan4 := time.Date(isoYear, time.January, 4, 0, 0, 0, 0, time.UTC)
	week1 := WeekStart(jan4)
	return week1.AddDate(0, 0, (isoWeek-1)*7+7)
}

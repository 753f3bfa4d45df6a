package trivia

import "time"

const dateLayout = "2006-01-02"

// DrawSchedule is the external predicate the trivia-live surface consumes;
// actual scoring, question selection, and draw-time computation live
// outside this module's scope.
type DrawSchedule interface {
	// NextDrawTime returns the draw instant for the UTC calendar day that
	// `now` falls on.
	NextDrawTime(now time.Time) time.Time
}

// Window describes the pre/post activity window around a day's draw.
type Window struct {
	PreWindow  time.Duration
	PostWindow time.Duration
}

// CanonicalDrawDate returns the YYYY-MM-DD bucket a message sent at `now`
// belongs to: the current UTC calendar day.
func CanonicalDrawDate(now time.Time) string {
	return now.UTC().Format(dateLayout)
}

// ActiveBuckets returns every drawDate bucket that should be considered
// "live" at `now` — resolving Open Question #2. Today's bucket is always
// included. Yesterday's bucket is additionally included only while `now`
// still falls within yesterday's post-draw window, so a read never joins
// more than the two buckets that can possibly overlap and a message is
// never double-counted across buckets (each message is written into
// exactly one bucket — its own calendar day — regardless of how many
// buckets are active for reads).
func ActiveBuckets(schedule DrawSchedule, window Window, now time.Time) []string {
	today := now.UTC().Truncate(24 * time.Hour)
	buckets := []string{CanonicalDrawDate(now)}

	yesterday := today.Add(-24 * time.Hour)
	yesterdayDraw := schedule.NextDrawTime(yesterday)
	if now.Before(yesterdayDraw.Add(window.PostWindow)) {
		buckets = append(buckets, CanonicalDrawDate(yesterday))
	}

	return buckets
}

// IsActive reports whether the canonical bucket for `now` is within its
// own pre/post activity window.
func IsActive(schedule DrawSchedule, window Window, now time.Time) bool {
	draw := schedule.NextDrawTime(now)
	return !now.Before(draw.Add(-window.PreWindow)) && now.Before(draw.Add(window.PostWindow))
}

// FixedHourSchedule is the default DrawSchedule: one draw per UTC day at a
// fixed hour/minute, used when no richer trivia-scoring subsystem is
// wired in.
type FixedHourSchedule struct {
	Hour   int
	Minute int
}

// NextDrawTime implements DrawSchedule.
func (f FixedHourSchedule) NextDrawTime(now time.Time) time.Time {
	day := now.UTC().Truncate(24 * time.Hour)
	return day.Add(time.Duration(f.Hour)*time.Hour + time.Duration(f.Minute)*time.Minute)
}

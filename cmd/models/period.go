package models

import "time"

// Period returns the [from, to) range of a budget month. startDay lets a
// user's month begin on payday instead of the 1st; it is clamped to 1..28.
func Period(month, year, startDay int) (time.Time, time.Time) {
	startDay = clampStartDay(startDay)
	from := time.Date(year, time.Month(month), startDay, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// PeriodOf returns the budget month and year a date belongs to.
func PeriodOf(t time.Time, startDay int) (int, int) {
	startDay = clampStartDay(startDay)
	t = t.UTC()
	if t.Day() < startDay {
		t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	}
	return int(t.Month()), t.Year()
}

// AddFrequency moves t one period forward. Monthly and yearly steps land on
// anchorDay (t's own day when zero), clamped to the end of shorter months:
// Jan 31 becomes Feb 28 rather than Mar 3, and Feb 28 anchored on the 31st
// becomes Mar 31.
func AddFrequency(t time.Time, frequency string, anchorDay int) time.Time {
	switch frequency {
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyYearly:
		return addMonthsOnDay(t, 12, anchorDay)
	default:
		return addMonthsOnDay(t, 1, anchorDay)
	}
}

func addMonthsOnDay(t time.Time, n, day int) time.Time {
	if day < 1 || day > 31 {
		day = t.Day()
	}
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := first.AddDate(0, n, 0)
	if last := DaysIn(target.Month(), target.Year()); day > last {
		day = last
	}
	return target.AddDate(0, 0, day-1)
}

// DaysIn returns the number of days in the month.
func DaysIn(month time.Month, year int) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DateOnly truncates t to midnight UTC.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func clampStartDay(d int) int {
	if d < 1 {
		return 1
	}
	if d > 28 {
		return 28
	}
	return d
}

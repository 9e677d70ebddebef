package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NextExecution computes the next due timestamp for a recurrence, strictly
// after from. All arithmetic is in UTC. The boolean result is false when the
// recurrence is exhausted (a Once task outside of creation time).
//
// Weekly uses modulo arithmetic to find days until the target weekday; if the
// target is today but the time of day already passed, it schedules a full
// week out. Monthly clamps the target day to the month's actual length, so
// day 31 in February lands on the 28th/29th, rolling December into January.
// allowImmediateOnce is only set at creation time to produce a Once task's
// single run; rescheduling after a run never sets it.
func NextExecution(kind RecurrenceKind, scheduledTime string, scheduledDay *int, from time.Time, allowImmediateOnce bool) (time.Time, bool, error) {
	hour, minute, second, err := parseTimeOfDay(scheduledTime)
	if err != nil {
		return time.Time{}, false, err
	}

	from = from.UTC()

	switch kind {
	case RecurrenceOnce:
		if !allowImmediateOnce {
			return time.Time{}, false, nil
		}
		return nextDaily(from, hour, minute, second), true, nil

	case RecurrenceDaily:
		return nextDaily(from, hour, minute, second), true, nil

	case RecurrenceWeekly:
		if scheduledDay == nil || *scheduledDay < 0 || *scheduledDay > 6 {
			return time.Time{}, false, validationErrorf("Weekly tasks require scheduled_day between 0 (Monday) and 6 (Sunday)")
		}

		// Go weekdays start on Sunday; the schedule counts from Monday.
		current := (int(from.Weekday()) + 6) % 7
		daysAhead := (*scheduledDay - current + 7) % 7

		if daysAhead == 0 {
			sameDay := atTime(from, hour, minute, second)
			if !sameDay.After(from) {
				daysAhead = 7
			}
		}

		target := from.AddDate(0, 0, daysAhead)
		return atTime(target, hour, minute, second), true, nil

	case RecurrenceMonthly:
		if scheduledDay == nil || *scheduledDay < 1 || *scheduledDay > 31 {
			return time.Time{}, false, validationErrorf("Monthly tasks require scheduled_day between 1 and 31")
		}

		year, month := from.Year(), from.Month()
		day := clampDay(*scheduledDay, year, month)
		next := time.Date(year, month, day, hour, minute, second, 0, time.UTC)

		if !next.After(from) {
			if month == time.December {
				month = time.January
				year++
			} else {
				month++
			}
			day = clampDay(*scheduledDay, year, month)
			next = time.Date(year, month, day, hour, minute, second, 0, time.UTC)
		}

		return next, true, nil

	default:
		return time.Time{}, false, validationErrorf("unexpected recurrence type: %s", kind)
	}
}

// ValidateRecurrence checks the recurrence/day combination without computing anything.
func ValidateRecurrence(kind RecurrenceKind, scheduledDay *int) error {
	switch kind {
	case RecurrenceWeekly:
		if scheduledDay == nil || *scheduledDay < 0 || *scheduledDay > 6 {
			return validationErrorf("Weekly tasks require scheduled_day between 0 (Monday) and 6 (Sunday)")
		}
	case RecurrenceMonthly:
		if scheduledDay == nil || *scheduledDay < 1 || *scheduledDay > 31 {
			return validationErrorf("Monthly tasks require scheduled_day between 1 and 31")
		}
	case RecurrenceOnce, RecurrenceDaily:
	default:
		return validationErrorf("unexpected recurrence type: %s", kind)
	}
	return nil
}

// parseTimeOfDay parses "HH:MM" or "HH:MM:SS". Seconds default to 0.
func parseTimeOfDay(s string) (hour, minute, second int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, 0, validationErrorf("invalid scheduled_time %q, expected HH:MM or HH:MM:SS", s)
	}

	fields := make([]int, 3)
	for i, part := range parts {
		n, convErr := strconv.Atoi(part)
		if convErr != nil {
			return 0, 0, 0, validationErrorf("invalid scheduled_time %q, expected HH:MM or HH:MM:SS", s)
		}
		fields[i] = n
	}

	hour, minute, second = fields[0], fields[1], fields[2]
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return 0, 0, 0, validationErrorf("invalid scheduled_time %q, values out of range", s)
	}

	return hour, minute, second, nil
}

// nextDaily returns the next occurrence of the time of day strictly after from.
func nextDaily(from time.Time, hour, minute, second int) time.Time {
	next := atTime(from, hour, minute, second)
	if !next.After(from) {
		next = atTime(from.AddDate(0, 0, 1), hour, minute, second)
	}
	return next
}

// atTime returns t's date with the given time of day, in UTC.
func atTime(t time.Time, hour, minute, second int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, second, 0, time.UTC)
}

// clampDay clamps day to the last day of the given month.
func clampDay(day, year int, month time.Month) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// DescribeRecurrence renders a human-readable schedule summary,
// e.g. "Weekly on Monday at 09:00".
func DescribeRecurrence(kind RecurrenceKind, scheduledTime string, scheduledDay *int) string {
	switch kind {
	case RecurrenceOnce:
		return fmt.Sprintf("Once at %s", scheduledTime)
	case RecurrenceDaily:
		return fmt.Sprintf("Daily at %s", scheduledTime)
	case RecurrenceWeekly:
		name := "Unknown"
		if scheduledDay != nil && *scheduledDay >= 0 && *scheduledDay <= 6 {
			name = weekdayNames[*scheduledDay]
		}
		return fmt.Sprintf("Weekly on %s at %s", name, scheduledTime)
	case RecurrenceMonthly:
		day := 0
		if scheduledDay != nil {
			day = *scheduledDay
		}
		return fmt.Sprintf("Monthly on the %d%s at %s", day, ordinalSuffix(day), scheduledTime)
	}
	return string(kind)
}

func ordinalSuffix(day int) string {
	switch day {
	case 1, 21, 31:
		return "st"
	case 2, 22:
		return "nd"
	case 3, 23:
		return "rd"
	}
	return "th"
}

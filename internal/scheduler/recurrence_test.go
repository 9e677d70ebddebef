package scheduler

import (
	"testing"
	"time"
)

func intPtr(n int) *int { return &n }

func TestNextExecution_Daily(t *testing.T) {
	// 2025-06-11 is a Wednesday.
	tests := []struct {
		name string
		from time.Time
		at   string
		want time.Time
	}{
		{
			name: "time of day still ahead",
			from: time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC),
			at:   "09:30",
			want: time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "time of day already passed",
			from: time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC),
			at:   "09:30",
			want: time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "exactly at the scheduled time rolls to tomorrow",
			from: time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC),
			at:   "09:30",
			want: time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "with seconds",
			from: time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC),
			at:   "09:30:45",
			want: time.Date(2025, 6, 11, 9, 30, 45, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := NextExecution(RecurrenceDaily, tt.at, nil, tt.from, false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !ok {
				t.Fatal("expected a next execution")
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextExecution_Weekly(t *testing.T) {
	// 2025-06-11 is a Wednesday (day index 2, Monday-based).
	wednesday := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		from time.Time
		day  int
		at   string
		want time.Time
	}{
		{
			name: "two days ahead",
			from: wednesday,
			day:  4, // Friday
			at:   "09:30",
			want: time.Date(2025, 6, 13, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "same day time still ahead",
			from: time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC),
			day:  2, // Wednesday
			at:   "09:30",
			want: time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "same day time passed waits a full week",
			from: wednesday,
			day:  2, // Wednesday
			at:   "09:30",
			want: time.Date(2025, 6, 18, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "target earlier in the week wraps",
			from: wednesday,
			day:  0, // Monday
			at:   "09:30",
			want: time.Date(2025, 6, 16, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "sunday is day six",
			from: wednesday,
			day:  6,
			at:   "09:30",
			want: time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := NextExecution(RecurrenceWeekly, tt.at, intPtr(tt.day), tt.from, false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !ok {
				t.Fatal("expected a next execution")
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextExecution_Monthly(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		day  int
		at   string
		want time.Time
	}{
		{
			name: "later this month",
			from: time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC),
			day:  20,
			at:   "09:30",
			want: time.Date(2025, 6, 20, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "day 31 clamps to thirty day month",
			from: time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC),
			day:  31,
			at:   "09:30",
			want: time.Date(2025, 6, 30, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "day 31 clamps to february",
			from: time.Date(2025, 2, 10, 10, 0, 0, 0, time.UTC),
			day:  31,
			at:   "09:30",
			want: time.Date(2025, 2, 28, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "day 29 hits leap february",
			from: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
			day:  29,
			at:   "09:30",
			want: time.Date(2024, 2, 29, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "passed this month rolls to next",
			from: time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC),
			day:  31,
			at:   "09:30",
			want: time.Date(2025, 2, 28, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "december wraps to january",
			from: time.Date(2025, 12, 31, 10, 0, 0, 0, time.UTC),
			day:  31,
			at:   "09:30",
			want: time.Date(2026, 1, 31, 9, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := NextExecution(RecurrenceMonthly, tt.at, intPtr(tt.day), tt.from, false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !ok {
				t.Fatal("expected a next execution")
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextExecution_Once(t *testing.T) {
	from := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)

	got, ok, err := NextExecution(RecurrenceOnce, "09:30", nil, from, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a next execution at creation time")
	}
	want := time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// After the single run the schedule is exhausted.
	_, ok, err = NextExecution(RecurrenceOnce, "09:30", nil, from, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected no next execution after the single run")
	}
}

func TestNextExecution_Errors(t *testing.T) {
	from := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		kind RecurrenceKind
		at   string
		day  *int
	}{
		{name: "weekly without day", kind: RecurrenceWeekly, at: "09:30"},
		{name: "weekly day out of range", kind: RecurrenceWeekly, at: "09:30", day: intPtr(7)},
		{name: "monthly without day", kind: RecurrenceMonthly, at: "09:30"},
		{name: "monthly day zero", kind: RecurrenceMonthly, at: "09:30", day: intPtr(0)},
		{name: "monthly day too large", kind: RecurrenceMonthly, at: "09:30", day: intPtr(32)},
		{name: "unknown recurrence", kind: RecurrenceKind("hourly"), at: "09:30"},
		{name: "malformed time", kind: RecurrenceDaily, at: "nine thirty"},
		{name: "hour out of range", kind: RecurrenceDaily, at: "24:00"},
		{name: "minute out of range", kind: RecurrenceDaily, at: "09:60"},
		{name: "too many fields", kind: RecurrenceDaily, at: "09:30:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NextExecution(tt.kind, tt.at, tt.day, from, false)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !IsValidationError(err) {
				t.Errorf("expected a validation error, got %T: %v", err, err)
			}
		})
	}
}

func TestValidateRecurrence(t *testing.T) {
	tests := []struct {
		name    string
		kind    RecurrenceKind
		day     *int
		wantErr bool
	}{
		{name: "once needs no day", kind: RecurrenceOnce},
		{name: "daily needs no day", kind: RecurrenceDaily},
		{name: "weekly monday", kind: RecurrenceWeekly, day: intPtr(0)},
		{name: "weekly sunday", kind: RecurrenceWeekly, day: intPtr(6)},
		{name: "weekly missing day", kind: RecurrenceWeekly, wantErr: true},
		{name: "weekly day seven", kind: RecurrenceWeekly, day: intPtr(7), wantErr: true},
		{name: "monthly first", kind: RecurrenceMonthly, day: intPtr(1)},
		{name: "monthly thirty first", kind: RecurrenceMonthly, day: intPtr(31)},
		{name: "monthly missing day", kind: RecurrenceMonthly, wantErr: true},
		{name: "unknown kind", kind: RecurrenceKind("yearly"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecurrence(tt.kind, tt.day)
			if (err != nil) != tt.wantErr {
				t.Errorf("got error %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDescribeRecurrence(t *testing.T) {
	tests := []struct {
		name string
		kind RecurrenceKind
		at   string
		day  *int
		want string
	}{
		{name: "once", kind: RecurrenceOnce, at: "09:30", want: "Once at 09:30"},
		{name: "daily", kind: RecurrenceDaily, at: "18:00", want: "Daily at 18:00"},
		{name: "weekly", kind: RecurrenceWeekly, at: "09:30", day: intPtr(0), want: "Weekly on Monday at 09:30"},
		{name: "weekly sunday", kind: RecurrenceWeekly, at: "09:30", day: intPtr(6), want: "Weekly on Sunday at 09:30"},
		{name: "monthly first", kind: RecurrenceMonthly, at: "09:30", day: intPtr(1), want: "Monthly on the 1st at 09:30"},
		{name: "monthly twenty second", kind: RecurrenceMonthly, at: "09:30", day: intPtr(22), want: "Monthly on the 22nd at 09:30"},
		{name: "monthly third", kind: RecurrenceMonthly, at: "09:30", day: intPtr(3), want: "Monthly on the 3rd at 09:30"},
		{name: "monthly fifteenth", kind: RecurrenceMonthly, at: "09:30", day: intPtr(15), want: "Monthly on the 15th at 09:30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DescribeRecurrence(tt.kind, tt.at, tt.day)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

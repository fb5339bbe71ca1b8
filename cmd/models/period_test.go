package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddFrequency(t *testing.T) {
	tests := []struct {
		name string
		in     time.Time
		freq   string
		anchor int
		want   time.Time
	}{
		{"weekly", date(2026, 1, 28), FrequencyWeekly, 28, date(2026, 2, 4)},
		{"monthly", date(2026, 1, 15), FrequencyMonthly, 15, date(2026, 2, 15)},
		{"monthly clamps", date(2026, 1, 31), FrequencyMonthly, 31, date(2026, 2, 28)},
		{"monthly returns to anchor", date(2026, 2, 28), FrequencyMonthly, 31, date(2026, 3, 31)},
		{"monthly anchor 30 after february", date(2026, 2, 28), FrequencyMonthly, 30, date(2026, 3, 30)},
		{"no anchor uses own day", date(2026, 2, 28), FrequencyMonthly, 0, date(2026, 3, 28)},
		{"monthly leap", date(2028, 1, 31), FrequencyMonthly, 31, date(2028, 2, 29)},
		{"yearly from leap day", date(2028, 2, 29), FrequencyYearly, 29, date(2029, 2, 28)},
		{"yearly back to leap day", date(2031, 2, 28), FrequencyYearly, 29, date(2032, 2, 29)},
		{"unknown defaults to monthly", date(2026, 3, 10), "", 10, date(2026, 4, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AddFrequency(tt.in, tt.freq, tt.anchor); !got.Equal(tt.want) {
				t.Errorf("AddFrequency(%v, %q, %d) = %v, want %v", tt.in, tt.freq, tt.anchor, got, tt.want)
			}
		})
	}
}

func TestPeriod(t *testing.T) {
	from, to := Period(12, 2026, 1)
	if !from.Equal(date(2026, 12, 1)) || !to.Equal(date(2027, 1, 1)) {
		t.Errorf("Period(12, 2026, 1) = %v..%v", from, to)
	}

	from, to = Period(3, 2026, 25)
	if !from.Equal(date(2026, 3, 25)) || !to.Equal(date(2026, 4, 25)) {
		t.Errorf("Period(3, 2026, 25) = %v..%v", from, to)
	}
}

func TestPeriodOf(t *testing.T) {
	if m, y := PeriodOf(date(2026, 1, 10), 15); m != 12 || y != 2025 {
		t.Errorf("PeriodOf(Jan 10, 15) = %d/%d, want 12/2025", m, y)
	}
	if m, y := PeriodOf(date(2026, 1, 15), 15); m != 1 || y != 2026 {
		t.Errorf("PeriodOf(Jan 15, 15) = %d/%d, want 1/2026", m, y)
	}
	if m, y := PeriodOf(date(2026, 7, 1), 0); m != 7 || y != 2026 {
		t.Errorf("PeriodOf(Jul 1, 0) = %d/%d, want 7/2026", m, y)
	}
}

func TestGoalProgress(t *testing.T) {
	g := FinancialGoal{TargetAmount: decimal.NewFromInt(200), CurrentAmount: decimal.NewFromInt(50)}
	if p := g.Progress(); !p.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Progress = %s, want 25", p)
	}
	g.CurrentAmount = decimal.NewFromInt(500)
	if p := g.Progress(); !p.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Progress = %s, want capped 100", p)
	}
}

func TestAdvanceKeepsAnchorDay(t *testing.T) {
	r := RecurringExpense{Frequency: FrequencyMonthly}
	r.Reschedule(date(2026, 1, 31))

	want := []time.Time{date(2026, 2, 28), date(2026, 3, 31), date(2026, 4, 30), date(2026, 5, 31)}
	for _, w := range want {
		r.Advance()
		if !r.NextDueDate.Equal(w) {
			t.Fatalf("NextDueDate = %v, want %v", r.NextDueDate, w)
		}
	}
}

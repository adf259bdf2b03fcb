package session

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusDisputed, true},
		{StatusActive, StatusPending, false},
		{StatusCompleted, StatusActive, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusCancelled, StatusDisputed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []Status{StatusPending, StatusActive}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestValidType(t *testing.T) {
	if !ValidType(TypeChat) || !ValidType(TypeVoice) || !ValidType(TypeVideo) {
		t.Fatal("expected chat/voice/video to be valid")
	}
	if ValidType(Type("smoke")) {
		t.Fatal("expected unknown type to be invalid")
	}
}

func TestReserve(t *testing.T) {
	rate := decimal.NewFromFloat(2.5)
	got := Reserve(rate)
	want := decimal.NewFromFloat(7.5)
	if !got.Equal(want) {
		t.Fatalf("Reserve(%s) = %s, want %s", rate, got, want)
	}
}

func TestBillingWindowWholeMinutes(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	duration, minutes := BillingWindow(start, end)
	if duration != 90 {
		t.Errorf("duration = %d, want 90", duration)
	}
	if minutes != 2 {
		t.Errorf("minutes = %d, want 2 (whole-minute rounding up)", minutes)
	}
}

func TestBillingWindowMinimumOneMinute(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Second)

	duration, minutes := BillingWindow(start, end)
	if duration != 2 {
		t.Errorf("duration = %d, want 2", duration)
	}
	if minutes != 1 {
		t.Errorf("minutes = %d, want 1 (minimum one billed minute)", minutes)
	}
}

func TestBillingWindowZeroLength(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	duration, minutes := BillingWindow(start, start)
	if duration != 1 {
		t.Errorf("duration = %d, want 1 (floor of one second)", duration)
	}
	if minutes != 1 {
		t.Errorf("minutes = %d, want 1", minutes)
	}
}

func TestBillingWindowFractionalSecondRoundsUp(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(61500 * time.Millisecond)

	duration, minutes := BillingWindow(start, end)
	if duration != 62 {
		t.Errorf("duration = %d, want 62 (partial second rounds up)", duration)
	}
	if minutes != 2 {
		t.Errorf("minutes = %d, want 2", minutes)
	}
}

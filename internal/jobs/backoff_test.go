package jobs

import (
	"testing"
	"time"
)

func TestDefaultDelaySchedule(t *testing.T) {
	p := DefaultRetryPolicy()

	cases := []struct {
		attempt int32
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 25 * time.Second},
		{3, 125 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayMonotonic(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, Factor: 2}
	prev := time.Duration(0)
	for attempt := int32(1); attempt <= 10; attempt++ {
		d := p.Delay(attempt)
		if d <= prev {
			t.Fatalf("Delay(%d) = %v, not greater than Delay(%d) = %v", attempt, d, attempt-1, prev)
		}
		prev = d
	}
}

func TestDelayClampsLowAttempt(t *testing.T) {
	p := DefaultRetryPolicy()
	if got := p.Delay(0); got != p.BaseDelay {
		t.Errorf("Delay(0) = %v, want base delay %v", got, p.BaseDelay)
	}
	if got := p.Delay(-3); got != p.BaseDelay {
		t.Errorf("Delay(-3) = %v, want base delay %v", got, p.BaseDelay)
	}
}

func TestDelayOverflowSaturates(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 100, BaseDelay: time.Hour, Factor: 10}
	if d := p.Delay(50); d <= 0 {
		t.Fatalf("Delay(50) = %v, want positive saturated duration", d)
	}
}

func TestExhausted(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.Exhausted(2) {
		t.Error("Exhausted(2) = true with 3 max attempts")
	}
	if !p.Exhausted(3) {
		t.Error("Exhausted(3) = false with 3 max attempts")
	}
	if !p.Exhausted(4) {
		t.Error("Exhausted(4) = false with 3 max attempts")
	}
}

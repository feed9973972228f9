package metricsync

import (
	"testing"
	"time"
)

func TestManualLifecycle_NotifiesOnChange(t *testing.T) {
	lc := NewManualLifecycle(Foreground)
	var got []AppState
	unsubscribe := lc.Subscribe(func(s AppState) { got = append(got, s) })

	lc.Set(Foreground)
	lc.Set(Background)
	lc.Set(Background)
	lc.Set(Foreground)

	if len(got) != 2 || got[0] != Background || got[1] != Foreground {
		t.Fatalf("expected [background foreground], got %v", got)
	}

	unsubscribe()
	lc.Set(Background)
	if len(got) != 2 {
		t.Errorf("unsubscribed listener must not be called, got %v", got)
	}
	if lc.Current() != Background {
		t.Errorf("expected background, got %s", lc.Current())
	}
	if lc.Subscribers() != 0 {
		t.Errorf("expected no subscribers, got %d", lc.Subscribers())
	}
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 15 * time.Second},
		{3, 30 * time.Second},
		{4, 60 * time.Second},
		{9, 60 * time.Second},
	}
	for _, tt := range tests {
		got := retryBackoff(nil, tt.attempt)
		if got != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestRetryBackoff_CustomLadder(t *testing.T) {
	ladder := []time.Duration{time.Millisecond, 2 * time.Millisecond}
	if got := retryBackoff(ladder, 5); got != 2*time.Millisecond {
		t.Errorf("expected last step to repeat, got %v", got)
	}
}

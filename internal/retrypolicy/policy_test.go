package retrypolicy

import (
	"testing"
	"time"
)

func TestDefaultSchedule(t *testing.T) {
	s := Default()

	tests := []struct {
		attempt   int
		wantDelay time.Duration
		wantOK    bool
	}{
		{1, 1 * time.Hour, true},
		{2, 4 * time.Hour, true},
		{3, 24 * time.Hour, true},
		{4, 0, false},
		{5, 0, false},
		{0, 0, false},
		{-1, 0, false},
	}

	for _, tt := range tests {
		delay, ok := s.NextDelay(tt.attempt)
		if delay != tt.wantDelay || ok != tt.wantOK {
			t.Errorf("NextDelay(%d) = (%v, %v), want (%v, %v)",
				tt.attempt, delay, ok, tt.wantDelay, tt.wantOK)
		}
	}
}

func TestCustomSchedule(t *testing.T) {
	s := NewSchedule(time.Minute, 5*time.Minute)

	if delay, ok := s.NextDelay(2); !ok || delay != 5*time.Minute {
		t.Errorf("NextDelay(2) = (%v, %v), want (5m, true)", delay, ok)
	}
	if _, ok := s.NextDelay(3); ok {
		t.Error("NextDelay(3) should be exhausted for a two-entry table")
	}
}

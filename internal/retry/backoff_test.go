package retry

import (
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		base     time.Duration
		expected time.Duration
	}{
		{0, time.Second, time.Second},
		{1, time.Second, 2 * time.Second},
		{2, time.Second, 4 * time.Second},
		{3, 200 * time.Millisecond, 1600 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := ExponentialBackoff(tt.attempt, tt.base); got != tt.expected {
			t.Errorf("attempt %d base %v: expected %v, got %v", tt.attempt, tt.base, tt.expected, got)
		}
	}
}

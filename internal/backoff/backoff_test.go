package backoff

import (
	"math"
	"testing"
)

func TestNextDelayRampsTowardMaxDelay(t *testing.T) {
	// A Jitter of 0 is replaced by the 0.2 default, so the smallest nonzero
	// jitter is used instead: it is too small to change any computed delay.
	s := &Schedule{InitialDelay: 1000, MaxDelay: 8000, MaxDelayAfterTries: 3, Jitter: math.SmallestNonzeroFloat64}
	want := []int{1000, 2000, 4000, 8000, 8000}
	for i, w := range want {
		got := s.NextDelay()
		if got != w {
			t.Fatalf("attempt %d: got %d want %d", i, got, w)
		}
	}
}

func TestNextDelayRespectsMaxTries(t *testing.T) {
	s := &Schedule{MaxTries: 2, InitialDelay: 100, MaxDelay: 1000, MaxDelayAfterTries: 4, Jitter: 0}
	if d := s.NextDelay(); d == 0 {
		t.Fatalf("first attempt should return a nonzero delay")
	}
	if d := s.NextDelay(); d == 0 {
		t.Fatalf("second attempt should return a nonzero delay")
	}
	if d := s.NextDelay(); d != 0 {
		t.Fatalf("third attempt should return 0 once MaxTries is reached, got %d", d)
	}
}

func TestResetZeroesAttempts(t *testing.T) {
	s := &Schedule{InitialDelay: 100, MaxDelay: 1000, MaxDelayAfterTries: 4}
	s.NextDelay()
	s.NextDelay()
	if s.Attempts() != 2 {
		t.Fatalf("expected 2 attempts, got %d", s.Attempts())
	}
	s.Reset()
	if s.Attempts() != 0 {
		t.Fatalf("expected 0 attempts after Reset, got %d", s.Attempts())
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	s := &Schedule{InitialDelay: 1000, MaxDelay: 1000, MaxDelayAfterTries: 1, Jitter: 0.2}
	for i := 0; i < 50; i++ {
		d := s.NextDelay()
		if d < 800 || d > 1200 {
			t.Fatalf("jittered delay %d out of expected [800,1200] range", d)
		}
	}
}

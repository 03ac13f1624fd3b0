// Package backoff expresses the reconnect schedule the demonstration CLI
// uses when its connection to a grid server drops.
//
// This is used only by cmd/opensdg-cli; the core connection state machine
// performs no automatic retries or retransmission of its own (see the root
// package's documentation) — endpoint fallback during the initial connect
// is the one exception, and it lives entirely inside Connection.Connect.
// Reconnecting after an established session fails is an application
// decision, not a protocol one, so it is kept out here instead.
package backoff

import (
	"math"
	"math/rand"
)

// Schedule computes the delay before the next reconnect attempt to a grid
// server, following an exponential curve from InitialDelay up to MaxDelay
// (reached after MaxDelayAfterTries attempts), with random jitter added so
// that a fleet of appliances which all lost their grid connection at once
// (e.g. because the grid server itself restarted) don't all reconnect in
// the same instant. The zero value is usable; InitDefaults fills in
// reasonable numbers on first use.
type Schedule struct {
	// MaxTries caps the number of attempts; 0 means unlimited.
	MaxTries int

	// InitialDelay is the delay, in milliseconds, after the first failure.
	InitialDelay int

	// MaxDelay is the delay, in milliseconds, the schedule converges to.
	MaxDelay int

	// MaxDelayAfterTries is the attempt number at which MaxDelay is reached.
	MaxDelayAfterTries int

	// Jitter is the fraction of the computed delay to randomize by, in
	// either direction. 0.2 means the actual delay returned is the computed
	// one scaled by a factor in [0.8, 1.2]. Defaults to 0.2.
	Jitter float64

	attempt int
}

// InitDefaults fills any zero field with a sensible default. Called
// automatically by NextDelay.
func (s *Schedule) InitDefaults() {
	if s.InitialDelay == 0 {
		s.InitialDelay = 5000
	}
	if s.MaxDelay == 0 {
		s.MaxDelay = 120000
	}
	if s.MaxDelayAfterTries == 0 {
		s.MaxDelayAfterTries = 10
	}
	if s.Jitter == 0 {
		s.Jitter = 0.2
	}
}

// Attempts reports how many delays NextDelay has handed out since the last
// Reset.
func (s *Schedule) Attempts() int {
	return s.attempt
}

// NextDelay returns the next delay in milliseconds and advances the
// internal attempt counter. Returns 0 once MaxTries has been reached,
// signalling the caller should stop reconnecting.
func (s *Schedule) NextDelay() int {
	s.InitDefaults()

	if s.MaxTries != 0 && s.attempt >= s.MaxTries {
		return 0
	}

	k := math.Log2(float64(s.MaxDelay)/float64(s.InitialDelay)) / float64(s.MaxDelayAfterTries)
	d := float64(s.InitialDelay) * math.Exp2(float64(s.attempt)*k)
	s.attempt++

	if d > float64(s.MaxDelay) {
		d = float64(s.MaxDelay)
	}

	d *= 1 + s.Jitter*(2*rand.Float64()-1)
	if d < 0 {
		d = 0
	}

	return int(d)
}

// Reset zeroes the attempt counter; the next delay returned will be
// InitialDelay again (plus jitter). Called once a reconnect succeeds.
func (s *Schedule) Reset() {
	s.attempt = 0
}

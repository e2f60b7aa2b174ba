// Package backoff computes wait durations between retry attempts.
package backoff

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Policy defines an exponential backoff. It is an immutable value.
type Policy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration

	// MaxElapsedTime bounds the total time spent retrying. Zero means unset.
	MaxElapsedTime time.Duration
	// MaxAttempts bounds the number of attempts, including the first. Zero means unset.
	MaxAttempts int

	// RandomizationFactor spreads each interval uniformly within
	// [interval*(1-f), interval*(1+f)], clamped to MaxInterval.
	RandomizationFactor float64
}

// Default mirrors the classic exponential backoff defaults.
func Default() Policy {
	return Policy{
		InitialInterval:     500 * time.Millisecond,
		Multiplier:          1.5,
		MaxInterval:         60 * time.Second,
		MaxElapsedTime:      15 * time.Minute,
		RandomizationFactor: 0.5,
	}
}

var (
	ErrInvalidInterval   = errors.New("backoff: initial interval must be positive")
	ErrInvalidMultiplier = errors.New("backoff: multiplier must be >= 1")
)

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.InitialInterval <= 0 {
		return ErrInvalidInterval
	}
	if p.Multiplier < 1 || math.IsNaN(p.Multiplier) {
		return ErrInvalidMultiplier
	}
	if p.MaxInterval < p.InitialInterval {
		return fmt.Errorf("backoff: max interval %v below initial interval %v", p.MaxInterval, p.InitialInterval)
	}
	if p.MaxElapsedTime < 0 || p.MaxAttempts < 0 {
		return errors.New("backoff: bounds must not be negative")
	}
	if p.RandomizationFactor < 0 || p.RandomizationFactor >= 1 {
		return fmt.Errorf("backoff: randomization factor %v outside [0,1)", p.RandomizationFactor)
	}
	return nil
}

// Unbounded reports whether neither MaxElapsedTime nor MaxAttempts is set.
// Such a policy is legal and retries until cancelled.
func (p Policy) Unbounded() bool {
	return p.MaxElapsedTime == 0 && p.MaxAttempts == 0
}

// State is the mutable progress of one retry loop. It must not be shared.
type State struct {
	// Attempt counts the attempts that have failed so far.
	Attempt int
	Start   time.Time
	Elapsed time.Duration
	// Current is the last interval handed out by NextInterval.
	Current time.Duration
}

// NewState starts a retry loop at now.
func NewState(now time.Time) *State {
	return &State{Start: now}
}

// Observe updates Elapsed from the given clock reading.
func (s *State) Observe(now time.Time) {
	s.Elapsed = now.Sub(s.Start)
}

// BaseInterval returns InitialInterval*Multiplier^attempt clamped to
// MaxInterval. The computation saturates instead of overflowing.
func (p Policy) BaseInterval(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	interval := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt))
	if math.IsNaN(interval) || math.IsInf(interval, 0) || interval >= float64(p.MaxInterval) {
		return p.MaxInterval
	}
	if interval < 0 {
		return 0
	}
	return time.Duration(interval)
}

// NextInterval returns the wait before the next attempt and records it in s.
// The first wait, after one failed attempt, is InitialInterval.
func (p Policy) NextInterval(s *State) time.Duration {
	interval := p.jitter(p.BaseInterval(s.Attempt - 1))
	s.Current = interval
	return interval
}

func (p Policy) jitter(interval time.Duration) time.Duration {
	if p.RandomizationFactor <= 0 || interval <= 0 {
		return interval
	}
	delta := p.RandomizationFactor * float64(interval)
	low := float64(interval) - delta
	high := float64(interval) + delta
	v := low + rand.Float64()*(high-low)
	if v > float64(p.MaxInterval) {
		v = float64(p.MaxInterval)
	}
	if v < 0 {
		v = 0
	}
	return time.Duration(v)
}

// ShouldContinue reports whether another attempt fits in the budget.
// It is evaluated after a failed attempt has been counted in s.Attempt.
func (p Policy) ShouldContinue(s *State) bool {
	if p.MaxAttempts > 0 && s.Attempt >= p.MaxAttempts {
		return false
	}
	if p.MaxElapsedTime > 0 && s.Elapsed >= p.MaxElapsedTime {
		return false
	}
	return true
}

// Package backoff computes retry delays for polling and sending.
package backoff

import (
	"fmt"
	"time"
)

// Curve selects how the delay grows with consecutive failures.
type Curve string

const (
	Exponential Curve = "exponential"
	Linear      Curve = "linear"
)

// Policy describes a bounded back-off. The zero value is not usable; see Default.
type Policy struct {
	Curve Curve
	Base  time.Duration
	Max   time.Duration
	// RateLimitFloor is the minimum delay after a rate-limited response.
	RateLimitFloor time.Duration
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{
		Curve:          Exponential,
		Base:           2 * time.Second,
		Max:            2 * time.Minute,
		RateLimitFloor: 30 * time.Second,
	}
}

// Validate reports configuration mistakes.
func (p Policy) Validate() error {
	switch p.Curve {
	case Exponential, Linear:
	default:
		return fmt.Errorf("unknown backoff curve %q", p.Curve)
	}
	if p.Base <= 0 {
		return fmt.Errorf("backoff base must be positive, got %s", p.Base)
	}
	if p.Max < p.Base {
		return fmt.Errorf("backoff max %s is below base %s", p.Max, p.Base)
	}
	return nil
}

// Delay returns the wait before the next attempt after the given number of
// consecutive failures (1 for the first failure). The result never decreases
// as failures grows and never exceeds Max.
func (p Policy) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Curve {
	case Linear:
		d = p.Base * time.Duration(failures)
	default:
		d = p.Base
		for i := 1; i < failures && d < p.Max; i++ {
			d *= 2
		}
	}
	if d > p.Max || d <= 0 {
		d = p.Max
	}
	return d
}

// RateLimited returns the delay after a rate-limited response. The server hint
// wins when it is longer than both the floor and the regular curve.
func (p Policy) RateLimited(failures int, hint time.Duration) time.Duration {
	d := max(p.Delay(failures), p.RateLimitFloor, hint)
	return d
}

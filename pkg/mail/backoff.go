package mail

import "time"

// MaxBackoff bounds every retry delay.
const MaxBackoff = 30 * time.Second

// Backoff returns the delay before retry number retry+1 on the same transport.
// Implementations must be non-decreasing in retry and never exceed their cap.
type Backoff interface {
	Delay(retry int) time.Duration
}

// ExponentialBackoff yields min(Base * 2^retry, Cap).
type ExponentialBackoff struct {
	Base time.Duration
	Cap  time.Duration
}

func (b ExponentialBackoff) Delay(retry int) time.Duration {
	limit := capOrDefault(b.Cap)
	if b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 0; i < retry; i++ {
		if d >= limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}

// LinearBackoff yields min(Step * (retry+1), Cap).
type LinearBackoff struct {
	Step time.Duration
	Cap  time.Duration
}

func (b LinearBackoff) Delay(retry int) time.Duration {
	limit := capOrDefault(b.Cap)
	if b.Step <= 0 || retry < 0 {
		return 0
	}
	if time.Duration(retry+1) > limit/b.Step {
		return limit
	}
	d := b.Step * time.Duration(retry+1)
	if d > limit {
		return limit
	}
	return d
}

func capOrDefault(c time.Duration) time.Duration {
	if c <= 0 || c > MaxBackoff {
		return MaxBackoff
	}
	return c
}

package nodes

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Backoff selects how the pause between attempts grows.
type Backoff string

const (
	// BackoffFixed waits Delay between every attempt.
	BackoffFixed Backoff = "fixed"
	// BackoffLinear waits Delay multiplied by the number of failed attempts.
	BackoffLinear Backoff = "linear"
	// BackoffExponential waits Delay * Multiplier^(failed attempts - 1).
	BackoffExponential Backoff = "exponential"
)

// ParseBackoff maps a config/DSL spelling to a Backoff.
func ParseBackoff(raw string) (Backoff, error) {
	switch b := Backoff(strings.ToLower(strings.TrimSpace(raw))); b {
	case "", BackoffFixed:
		return BackoffFixed, nil
	case BackoffLinear, BackoffExponential:
		return b, nil
	default:
		return "", fmt.Errorf("unknown backoff %q", raw)
	}
}

// RetryPolicy bounds how an Agent retries its node. MaxAttempts includes
// the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// The delay is not applied before the first attempt.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     Backoff
	// Multiplier grows exponential delays; values <= 1 default to 2.
	Multiplier float64
	// MaxDelay caps the computed delay; zero means no cap.
	MaxDelay time.Duration
}

// Attempts returns MaxAttempts clamped to at least one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// DelayFor returns the pause after the given failed attempt (1-based)
// before the next one starts.
func (p RetryPolicy) DelayFor(failed int) time.Duration {
	if p.Delay <= 0 || failed < 1 {
		return 0
	}

	var d time.Duration
	switch p.Backoff {
	case BackoffLinear:
		d = p.Delay * time.Duration(failed)
	case BackoffExponential:
		mult := p.Multiplier
		if mult <= 1 {
			mult = 2
		}
		scaled := float64(p.Delay) * math.Pow(mult, float64(failed-1))
		if scaled > float64(math.MaxInt64) {
			d = time.Duration(math.MaxInt64)
		} else {
			d = time.Duration(scaled)
		}
	default:
		d = p.Delay
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// RetryBuilder provides a fluent way to construct RetryPolicy values.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry creates a RetryBuilder with the given maxAttempts.
//
// maxAttempts <= 0 is treated as 1 (no retries).
func Retry(maxAttempts int) RetryBuilder {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return RetryBuilder{policy: RetryPolicy{MaxAttempts: maxAttempts, Backoff: BackoffFixed}}
}

// WithConstantBackoff waits delay between every attempt.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	p := r.policy
	p.Delay = delay
	p.Backoff = BackoffFixed
	p.Multiplier = 0
	p.MaxDelay = 0
	return RetryBuilder{policy: p}
}

// WithLinearBackoff waits delay, 2*delay, 3*delay, ...
func (r RetryBuilder) WithLinearBackoff(delay time.Duration) RetryBuilder {
	p := r.policy
	p.Delay = delay
	p.Backoff = BackoffLinear
	return RetryBuilder{policy: p}
}

// WithExponentialBackoff configures exponential backoff:
//
//   - initial is the delay before the first retry.
//   - multiplier > 1 grows the delay each attempt (default 2.0 otherwise).
//   - max caps the delay; if <= 0, there is no cap.
//
// Example:
//
//	Retry(3).WithExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second)
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) RetryBuilder {
	p := r.policy
	p.Delay = initial
	p.Backoff = BackoffExponential
	if multiplier <= 1 {
		multiplier = 2.0
	}
	p.Multiplier = multiplier
	p.MaxDelay = max
	return RetryBuilder{policy: p}
}

// Immediate disables any sleep between retries.
func (r RetryBuilder) Immediate() RetryBuilder {
	return RetryBuilder{policy: RetryPolicy{MaxAttempts: r.policy.MaxAttempts, Backoff: BackoffFixed}}
}

// Policy returns the underlying RetryPolicy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}

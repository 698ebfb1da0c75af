package errors

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines the retry behavior for a specific error tier.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of retry attempts (0 means no retry).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the starting backoff duration.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is the maximum backoff duration.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the backoff multiplier (default: 2.0).
	Multiplier float64 `yaml:"multiplier"`

	// UseRetryAfter honours the Retry-After header on rate-limit errors.
	UseRetryAfter bool `yaml:"use_retry_after"`

	// JitterPercent is the jitter percentage (default: 0.1 for 10%).
	JitterPercent float64 `yaml:"jitter_percent"`
}

// DefaultRetryPolicies returns the default retry policies for each error tier.
func DefaultRetryPolicies() map[ErrorTier]*RetryPolicy {
	return map[ErrorTier]*RetryPolicy{
		TierTransient:         defaultTransientPolicy(),
		TierExternalRateLimit: defaultRateLimitPolicy(),
		TierExternalDegrading: defaultDegradingPolicy(),
		TierPermanent:         defaultNoRetryPolicy(),
		TierUserFixable:       defaultNoRetryPolicy(),
	}
}

func defaultTransientPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      3 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

func defaultRateLimitPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   2,
		InitialDelay:  2 * time.Second,
		MaxDelay:      30 * time.Second,
		Multiplier:    2.0,
		UseRetryAfter: true,
		JitterPercent: 0.1,
	}
}

func defaultDegradingPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   2,
		InitialDelay:  1 * time.Second,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

func defaultNoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{}
}

// GetRetryPolicy returns the retry policy for a given error tier.
func GetRetryPolicy(tier ErrorTier) *RetryPolicy {
	if policy, ok := DefaultRetryPolicies()[tier]; ok {
		return policy
	}
	return defaultNoRetryPolicy()
}

// RetryExecutor executes operations with retry logic based on error tiers.
type RetryExecutor struct {
	policies map[ErrorTier]*RetryPolicy
}

// NewRetryExecutor creates a new RetryExecutor with the given policies.
func NewRetryExecutor(policies map[ErrorTier]*RetryPolicy) *RetryExecutor {
	if policies == nil {
		policies = DefaultRetryPolicies()
	}
	return &RetryExecutor{policies: policies}
}

// Execute runs fn under the policy of the given tier, whatever fn returns.
// Used for polling, where the failure tier is known up front.
func (e *RetryExecutor) Execute(ctx context.Context, tier ErrorTier, fn func() error) error {
	policy := e.getPolicy(tier)
	if policy.MaxAttempts <= 0 {
		return fn()
	}
	return e.executeWithRetry(ctx, func(error) *RetryPolicy { return policy }, fn)
}

// Do runs fn and retries while the returned error's own tier allows it.
// Only idempotent calls may be passed to Do.
func (e *RetryExecutor) Do(ctx context.Context, fn func() error) error {
	return e.executeWithRetry(ctx, func(err error) *RetryPolicy {
		return e.getPolicy(GetTier(err))
	}, fn)
}

func (e *RetryExecutor) getPolicy(tier ErrorTier) *RetryPolicy {
	if policy, ok := e.policies[tier]; ok {
		return policy
	}
	return defaultNoRetryPolicy()
}

func (e *RetryExecutor) executeWithRetry(ctx context.Context, policyFor func(error) *RetryPolicy, fn func() error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		policy := policyFor(lastErr)
		if attempt >= policy.MaxAttempts {
			return lastErr
		}

		delay := computeDelay(lastErr, attempt, policy)
		if err := waitBeforeRetry(ctx, delay); err != nil {
			return lastErr
		}
	}
}

func computeDelay(err error, attempt int, policy *RetryPolicy) time.Duration {
	if policy.UseRetryAfter {
		if wait := rateLimitWait(err, time.Now()); wait > 0 {
			return capDelay(wait, policy.MaxDelay)
		}
	}
	return jitter(exponential(attempt, policy), policy.JitterPercent)
}

// exponential is initial * multiplier^attempt, capped at MaxDelay.
func exponential(attempt int, policy *RetryPolicy) time.Duration {
	if policy == nil {
		return 0
	}
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	factor := math.Pow(multiplier, float64(attempt))
	return capDelay(time.Duration(float64(policy.InitialDelay)*factor), policy.MaxDelay)
}

func capDelay(delay, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// jitter spreads delay by up to pct either way, never going below 1ms.
func jitter(delay time.Duration, pct float64) time.Duration {
	if pct <= 0 {
		return delay
	}
	offset := (rand.Float64()*2 - 1) * float64(delay) * pct
	if d := time.Duration(float64(delay) + offset); d >= time.Millisecond {
		return d
	}
	return time.Millisecond
}

func waitBeforeRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

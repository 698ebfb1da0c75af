package errors

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Backoff
// =============================================================================

func TestExponential_Growth(t *testing.T) {
	policy := &RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, exponential(tt.attempt, policy), "attempt %d", tt.attempt)
	}
}

func TestExponential_CappedAndDefaults(t *testing.T) {
	policy := &RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

	assert.Equal(t, 200*time.Millisecond, exponential(1, policy), "zero multiplier defaults to 2")
	assert.Equal(t, 500*time.Millisecond, exponential(10, policy))
	assert.Zero(t, exponential(5, nil))
}

func TestJitter(t *testing.T) {
	assert.Equal(t, time.Second, jitter(time.Second, 0))

	for i := 0; i < 100; i++ {
		d := jitter(time.Second, 0.2)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
	assert.GreaterOrEqual(t, jitter(time.Microsecond, 0.5), time.Millisecond)
}

// =============================================================================
// Rate limit waits
// =============================================================================

func quotaSpent(reset time.Time) *RemoteError {
	header := http.Header{}
	header.Set("X-RateLimit-Remaining", "0")
	header.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	return NewRemoteError("put", http.MethodPut, "/contents/a.md", http.StatusForbidden, header,
		[]byte(`{"message":"API rate limit exceeded for user ID 1."}`))
}

func TestRemoteError_ParsesReset(t *testing.T) {
	reset := time.Unix(1_900_000_000, 0)
	err := quotaSpent(reset)

	assert.Equal(t, 0, err.RateLimitRemaining)
	assert.True(t, reset.Equal(err.RateLimitReset))

	bad := NewRemoteError("get", http.MethodGet, "/x", http.StatusForbidden,
		http.Header{"X-Ratelimit-Reset": {"soon"}}, nil)
	assert.True(t, bad.RateLimitReset.IsZero())
}

func TestRateLimitWait_UntilQuotaResets(t *testing.T) {
	now := time.Unix(1_900_000_000, 0)
	err := quotaSpent(now.Add(90 * time.Second))

	assert.Equal(t, 90*time.Second, rateLimitWait(err, now))
	assert.Zero(t, rateLimitWait(err, now.Add(2*time.Minute)), "a reset in the past asks for no wait")
}

func TestRateLimitWait_RetryAfterWins(t *testing.T) {
	now := time.Unix(1_900_000_000, 0)
	err := quotaSpent(now.Add(time.Hour))
	err.RetryAfter = 5 * time.Second

	assert.Equal(t, 5*time.Second, rateLimitWait(err, now))
}

func TestRateLimitWait_QuotaLeftIgnoresReset(t *testing.T) {
	now := time.Unix(1_900_000_000, 0)
	err := quotaSpent(now.Add(time.Hour))
	err.RateLimitRemaining = 12

	assert.Zero(t, rateLimitWait(err, now))
}

func TestRateLimitWait_CarriedThroughClassification(t *testing.T) {
	err := quotaSpent(time.Now().Add(time.Hour))

	c := NewErrorClassifier().Classify(err, IntentCommit)
	se := c.Err(err)
	require.Equal(t, TierExternalRateLimit, se.Tier)
	assert.Greater(t, se.RetryAfter, 50*time.Minute)

	policy := &RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: time.Minute, UseRetryAfter: true}
	assert.Equal(t, time.Minute, computeDelay(se, 0, policy), "the reset wait is capped by the policy")
}

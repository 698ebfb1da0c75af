package errors

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicies() map[ErrorTier]*RetryPolicy {
	fast := &RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	return map[ErrorTier]*RetryPolicy{
		TierTransient:         fast,
		TierExternalDegrading: fast,
		TierExternalRateLimit: fast,
		TierPermanent:         {},
		TierUserFixable:       {},
	}
}

func TestDefaultRetryPolicies_AllTiers(t *testing.T) {
	policies := DefaultRetryPolicies()
	require.Len(t, policies, 5)

	assert.Greater(t, policies[TierTransient].MaxAttempts, 0)
	assert.Greater(t, policies[TierExternalDegrading].MaxAttempts, 0)
	assert.True(t, policies[TierExternalRateLimit].UseRetryAfter)
	assert.Zero(t, policies[TierPermanent].MaxAttempts)
	assert.Zero(t, policies[TierUserFixable].MaxAttempts)
}

func TestRetryExecutor_Execute(t *testing.T) {
	executor := NewRetryExecutor(fastPolicies())

	calls := 0
	err := executor.Execute(context.Background(), TierTransient, func() error {
		calls++
		if calls < 3 {
			return New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = executor.Execute(context.Background(), TierPermanent, func() error {
		calls++
		return New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExecutor_DoUsesErrorTier(t *testing.T) {
	executor := NewRetryExecutor(fastPolicies())

	t.Run("retries server errors", func(t *testing.T) {
		calls := 0
		err := executor.Do(context.Background(), func() error {
			calls++
			return NewRemoteError("get", http.MethodGet, "/x", http.StatusBadGateway, nil, nil)
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry not found", func(t *testing.T) {
		calls := 0
		err := executor.Do(context.Background(), func() error {
			calls++
			return NewRemoteError("get", http.MethodGet, "/x", http.StatusNotFound, nil, nil)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("does not retry unauthorized", func(t *testing.T) {
		calls := 0
		_ = executor.Do(context.Background(), func() error {
			calls++
			return NewRemoteError("get", http.MethodGet, "/x", http.StatusUnauthorized, nil, nil)
		})
		assert.Equal(t, 1, calls)
	})
}

func TestRetryExecutor_StopsOnCancel(t *testing.T) {
	slow := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour}
	executor := NewRetryExecutor(map[ErrorTier]*RetryPolicy{TierTransient: slow})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- executor.Execute(ctx, TierTransient, func() error {
			calls++
			return New("boom")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("executor did not stop after cancel")
	}
}

func TestComputeDelay_HonoursRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "3")
	err := NewRemoteError("get", http.MethodGet, "/x", http.StatusTooManyRequests, header, nil)

	policy := &RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: time.Minute, UseRetryAfter: true}
	assert.Equal(t, 3*time.Second, computeDelay(err, 0, policy))
}

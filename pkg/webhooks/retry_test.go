package webhooks

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts to be 3, got %d", config.MaxAttempts)
	}
	if config.InitialDelay != 1*time.Second {
		t.Errorf("Expected InitialDelay to be 1s, got %v", config.InitialDelay)
	}
	if config.MaxDelay != 5*time.Minute {
		t.Errorf("Expected MaxDelay to be 5m, got %v", config.MaxDelay)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("Expected BackoffMultiplier to be 2.0, got %v", config.BackoffMultiplier)
	}
}

func TestNewRetryPolicy_FillsDefaults(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{BackoffMultiplier: 0.5})

	if policy.MaxAttempts() != 3 {
		t.Errorf("Expected MaxAttempts to default to 3, got %d", policy.MaxAttempts())
	}
	if policy.config.BackoffMultiplier != 2.0 {
		t.Errorf("Expected a shrinking multiplier to be replaced by 2.0, got %v", policy.config.BackoffMultiplier)
	}
}

func TestRetryPolicy_NextRetryDelay(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		MaxAttempts:       10,
		InitialDelay:      time.Second,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	})

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{9, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := policy.NextRetryDelay(tt.attempt); got != tt.expected {
			t.Errorf("NextRetryDelay(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())

	if !policy.ShouldRetry(1) || !policy.ShouldRetry(2) {
		t.Error("Expected attempts 1 and 2 to be retried")
	}
	if policy.ShouldRetry(3) {
		t.Error("Expected attempt 3 to be final")
	}
}

func TestRetrySet_FiresAfterDelay(t *testing.T) {
	clock := clockwork.NewFakeClockAt(signedAt)
	set := NewRetrySet(clock)

	var fired atomic.Int32
	attempt := &DeliveryAttempt{ID: "a2", ChainID: "c1", EndpointID: "ep", Attempt: 2}
	require.True(t, set.Schedule(attempt, 2*time.Second, func(got *DeliveryAttempt) {
		assert.Same(t, attempt, got)
		fired.Add(1)
	}))

	pending := set.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].ChainID)
	assert.Equal(t, signedAt.Add(2*time.Second), pending[0].DueAt)

	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, set.Len())
}

func TestRetrySet_Cancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	set := NewRetrySet(clock)

	var fired atomic.Int32
	fire := func(*DeliveryAttempt) { fired.Add(1) }

	set.Schedule(&DeliveryAttempt{ID: "a"}, time.Second, fire)
	set.Schedule(&DeliveryAttempt{ID: "b"}, 3*time.Second, fire)
	set.Schedule(&DeliveryAttempt{ID: "c"}, 2*time.Second, fire)

	pending := set.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, "a", pending[0].AttemptID)
	assert.Equal(t, "c", pending[1].AttemptID)
	assert.Equal(t, "b", pending[2].AttemptID)

	assert.True(t, set.Cancel("a"))
	assert.False(t, set.Cancel("a"))
	assert.Equal(t, 2, set.Len())

	assert.Equal(t, 2, set.CancelAll())
	assert.False(t, set.Schedule(&DeliveryAttempt{ID: "d"}, time.Second, fire), "closed sets reject new retries")

	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.Zero(t, set.Len())
}

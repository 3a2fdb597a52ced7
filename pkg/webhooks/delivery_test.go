package webhooks

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func result(id, endpoint, chain string, attempt int, state ChainState, at time.Time, rt time.Duration) *DeliveryResult {
	return &DeliveryResult{
		AttemptID:    id,
		ChainID:      chain,
		EndpointID:   endpoint,
		Attempt:      attempt,
		Success:      state == ChainDelivered,
		State:        state,
		CompletedAt:  at,
		ResponseTime: rt,
	}
}

func TestResultLog_Bounded(t *testing.T) {
	log := NewResultLog(2, 0)

	log.Add(result("a", "ep", "a", 1, ChainDelivered, signedAt, 0))
	log.Add(result("b", "ep", "b", 1, ChainDelivered, signedAt, 0))
	log.Add(result("c", "ep", "c", 1, ChainDelivered, signedAt, 0))

	assert.Equal(t, 2, log.Len())
	_, ok := log.Get("a")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = log.Get("c")
	assert.True(t, ok)

	defaulted := NewResultLog(0, 0)
	for i := 0; i < 1001; i++ {
		defaulted.Add(result(time.Duration(i).String(), "ep", "", 1, ChainDelivered, signedAt, 0))
	}
	assert.Equal(t, 1000, defaulted.Len(), "zero size defaults to 1000")
}

func TestResultLog_TTL(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clock := clockwork.NewFakeClockAt(signedAt)
	log := NewResultLogWithClock(10, time.Minute, clock)

	log.Add(result("old", "ep", "old", 1, ChainDelivered, signedAt, time.Second))
	clock.Advance(30 * time.Second)
	log.Add(result("new", "ep", "new", 1, ChainDelivered, signedAt, time.Second))

	assert.Equal(t, 2, log.Len())

	clock.Advance(30 * time.Second)
	_, ok := log.Get("old")
	assert.False(t, ok, "entry expires after the TTL")
	_, ok = log.Get("new")
	assert.True(t, ok)
	assert.Equal(t, 1, log.Len())
	assert.Equal(t, 1, log.Stats("ep").Total)

	clock.Advance(time.Minute)
	assert.Empty(t, log.GetByEndpoint("ep", 0))
	assert.Zero(t, log.Len())
}

func TestResultLog_GetByEndpoint(t *testing.T) {
	log := NewResultLog(10, 0)

	log.Add(result("a", "ep1", "a", 1, ChainDelivered, signedAt, 0))
	log.Add(result("b", "ep1", "b", 1, ChainDelivered, signedAt.Add(2*time.Second), 0))
	log.Add(result("c", "ep2", "c", 1, ChainDelivered, signedAt.Add(time.Second), 0))
	log.Add(result("d", "ep1", "d", 1, ChainDelivered, signedAt.Add(time.Second), 0))

	got := log.GetByEndpoint("ep1", 0)
	if assert.Len(t, got, 3) {
		assert.Equal(t, "b", got[0].AttemptID)
		assert.Equal(t, "d", got[1].AttemptID)
		assert.Equal(t, "a", got[2].AttemptID)
	}

	assert.Len(t, log.GetByEndpoint("ep1", 2), 2)
	assert.Empty(t, log.GetByEndpoint("ep3", 10))
}

func TestResultLog_GetByChain(t *testing.T) {
	log := NewResultLog(10, 0)

	log.Add(result("a3", "ep", "chain", 3, ChainPermanentlyFailed, signedAt.Add(3*time.Second), 0))
	log.Add(result("a1", "ep", "chain", 1, ChainRetryScheduled, signedAt, 0))
	log.Add(result("x1", "ep", "other", 1, ChainDelivered, signedAt, 0))
	log.Add(result("a2", "ep", "chain", 2, ChainRetryScheduled, signedAt.Add(time.Second), 0))

	chain := log.GetByChain("chain")
	if assert.Len(t, chain, 3) {
		for i, r := range chain {
			assert.Equal(t, i+1, r.Attempt)
		}
	}
}

func TestResultLog_Stats(t *testing.T) {
	log := NewResultLog(10, 0)

	log.Add(result("a", "ep", "a", 1, ChainDelivered, signedAt, 100*time.Millisecond))
	log.Add(result("b", "ep", "b", 1, ChainDelivered, signedAt, 300*time.Millisecond))
	log.Add(result("c", "ep", "c", 1, ChainRetryScheduled, signedAt, time.Second))
	log.Add(result("d", "ep", "d", 3, ChainPermanentlyFailed, signedAt, time.Second))
	log.Add(result("e", "other", "e", 1, ChainDelivered, signedAt, time.Second))

	stats := log.Stats("ep")
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Retrying)
	assert.Equal(t, 0.5, stats.SuccessRate)
	assert.Equal(t, 200*time.Millisecond, stats.AverageDuration)

	empty := log.Stats("missing")
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.SuccessRate)
}

func TestStatusError(t *testing.T) {
	err := &StatusError{Code: 502}
	assert.Equal(t, "webhook returned non-2xx status: 502", err.Error())
	assert.Equal(t, ErrorKindHTTPStatus, classifyError(err))
}

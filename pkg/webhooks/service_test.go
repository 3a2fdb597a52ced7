package webhooks

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/platinummonkey/herald/pkg/observability"
)

func TestService_RegisterAndManage(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	id, err := h.svc.Register(ctx, "acme", "https://acme.example.com/hook", []EventType{EventDataDeleted}, "s")
	require.NoError(t, err)

	e, err := h.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, e.Active)
	assert.Equal(t, signedAt, e.CreatedAt)

	other, err := h.svc.Register(ctx, "acme", "https://acme.example.com/other", nil, "")
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	list, err := h.svc.List(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	found, err := h.svc.Deactivate(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	e, err = h.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, e.Active)

	found, err = h.svc.Remove(ctx, other)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = h.svc.Activate(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = h.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestService_NotifyFansOutBySubscription(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "acme", "https://a", []EventType{EventDataRegistered}, "")
	require.NoError(t, err)
	_, err = h.svc.Register(ctx, "acme", "https://b", []EventType{EventDataRegistered, EventDeletionCompleted}, "")
	require.NoError(t, err)
	_, err = h.svc.Register(ctx, "globex", "https://c", []EventType{EventDataRegistered}, "")
	require.NoError(t, err)

	assert.Equal(t, 2, h.notify(t))

	n, err := h.svc.NotifyDataDeleted(ctx, "did:x", "0x1", "email", "acme", "0x2")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = h.svc.NotifyDeletionCompleted(ctx, "did:x", "acme", DeletionSummary{TotalRecords: 2, DeletedRecords: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	queued := h.queue.Snapshot()
	require.Len(t, queued, 3)
	for _, a := range queued {
		assert.Equal(t, 1, a.Attempt)
		assert.Equal(t, a.ID, a.ChainID)
	}
	summary, ok := queued[2].Payload.Data.(DeletionSummary)
	require.True(t, ok)
	assert.Equal(t, "acme", summary.CompanyID)
	assert.NotNil(t, summary.DeletionProofs, "proofs serialize as an empty array")

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.NotificationsTotal.WithLabelValues("data_registered")))
}

func TestService_GetStatsIsSideEffectFree(t *testing.T) {
	rc := newReceiver(t, http.StatusInternalServerError)
	h := newHarness(t, rc, nil)
	ctx := context.Background()

	a := h.register(t, rc.server.URL, "")
	h.register(t, rc.server.URL, "")
	_, err := h.svc.Register(ctx, "globex", rc.server.URL, []EventType{EventDataDeleted}, "")
	require.NoError(t, err)
	_, err = h.svc.Deactivate(ctx, a)
	require.NoError(t, err)

	h.notify(t)
	h.tick()
	h.notify(t)

	first, err := h.svc.GetStats(ctx)
	require.NoError(t, err)
	second, err := h.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 3, first.TotalWebhooks)
	assert.Equal(t, 2, first.ActiveWebhooks)
	assert.Equal(t, 1, first.QueuedDeliveries)
	assert.Equal(t, 1, first.PendingRetries)
	assert.Equal(t, map[string]int{"acme": 2, "globex": 1}, first.WebhooksByCompany)

	assert.Equal(t, 1, rc.count(), "stats never deliver")
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.EndpointsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.EndpointsActive))
}

func TestService_BackgroundDelivery(t *testing.T) {
	rc := newReceiver(t, http.StatusOK)
	svc := NewService(Options{
		Clock:      clockwork.NewRealClock(),
		HTTPClient: rc.server.Client(),
		Logger:     observability.NewLogger(observability.ErrorLevel, &syncWriter{w: &discard{}}),
		Processor:  ProcessorConfig{TickInterval: 10 * time.Millisecond},
	})
	ctx := context.Background()
	svc.Start(ctx)
	svc.Start(ctx)
	defer svc.Close(ctx)

	id, err := svc.Register(ctx, "acme", rc.server.URL, []EventType{EventDataDeleted}, "k")
	require.NoError(t, err)
	n, err := svc.NotifyDataDeleted(ctx, "did:x", "0x1", "email", "acme", "0x2")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		return svc.DeliveryStats(id).Successful == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rc.count())
}

func TestService_CloseLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	svc := NewService(Options{
		Logger:       observability.NewLogger(observability.ErrorLevel, &discard{}),
		Processor:    ProcessorConfig{TickInterval: 5 * time.Millisecond},
		ResultLogTTL: 24 * time.Hour,
	})
	svc.Start(context.Background())

	_, err := svc.Register(context.Background(), "acme", "http://127.0.0.1:1", []EventType{EventDataRegistered}, "")
	require.NoError(t, err)
	_, err = svc.NotifyDataRegistered(context.Background(), "did:x", "0x1", "email", "acme", "0x2")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, svc.Close(context.Background()))
	assert.Zero(t, svc.Processor().Retries().Len())
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

package redisqueue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/herald/pkg/observability"
	"github.com/platinummonkey/herald/pkg/storage"
	"github.com/platinummonkey/herald/pkg/webhooks"
)

// setupQueue starts miniredis and returns a queue plus the server for inspection
func setupQueue(t *testing.T, metrics *observability.Metrics) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := storage.DefaultConfig()
	cfg.QueueType = storage.QueueRedis
	cfg.RedisURL = "redis://" + mr.Addr()

	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return New(client, cfg.RedisQueueKey, nil, metrics), mr
}

func attempt(i int, event webhooks.EventType, data any) *webhooks.DeliveryAttempt {
	return &webhooks.DeliveryAttempt{
		ID:          fmt.Sprintf("att-%d", i),
		ChainID:     fmt.Sprintf("chain-%d", i),
		EndpointID:  "ep-1",
		Payload:     webhooks.NewPayload(event, "did:example:alice", time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC), data),
		Attempt:     1,
		ScheduledAt: time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
	}
}

func TestNewClient_Errors(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.RedisURL = "not a url"
	_, err := NewClient(context.Background(), cfg)
	assert.ErrorContains(t, err, "invalid redis URL")

	mr, err := miniredis.Run()
	require.NoError(t, err)
	cfg.RedisURL = "redis://" + mr.Addr()
	mr.Close()
	_, err = NewClient(context.Background(), cfg)
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestQueue_FIFO(t *testing.T) {
	q, _ := setupQueue(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, attempt(i, webhooks.EventDataRegistered, webhooks.RecordData{CommitmentHash: "0xabc"})))
	}

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	first, err := q.Dequeue(ctx, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	for i, a := range first {
		assert.Equal(t, fmt.Sprintf("att-%d", i), a.ID)
	}

	rest, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "att-3", rest[0].ID)
	assert.Equal(t, "att-4", rest[1].ID)

	empty, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	none, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestQueue_PayloadRoundTrip(t *testing.T) {
	q, _ := setupQueue(t, nil)
	ctx := context.Background()

	summary := webhooks.DeletionSummary{
		CompanyID:      "acme",
		TotalRecords:   2,
		DeletedRecords: 1,
		DeletionProofs: []webhooks.DeletionProof{{CommitmentHash: "0x1", ProofHash: "0x2", TxHash: "0x3"}},
	}
	in := attempt(1, webhooks.EventDeletionCompleted, summary)
	require.NoError(t, q.Enqueue(ctx, in))

	out, err := q.Dequeue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, in.ChainID, out[0].ChainID)
	assert.True(t, in.ScheduledAt.Equal(out[0].ScheduledAt))
	assert.Equal(t, summary, out[0].Payload.Data)

	want, err := webhooks.CanonicalJSON(in.Payload)
	require.NoError(t, err)
	got, err := webhooks.CanonicalJSON(out[0].Payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
	assert.Equal(t, string(want), string(got), "signed bytes survive the round trip")
}

func TestQueue_DropsUndecodableEntries(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	q, mr := setupQueue(t, metrics)
	ctx := context.Background()

	_, err := mr.RPush(q.key, "{broken")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, attempt(7, webhooks.EventDataDeleted, webhooks.RecordData{})))

	out, err := q.Dequeue(ctx, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "att-7", out[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DeliveryErrorsTotal.WithLabelValues("decode")))
}

func TestQueue_Clear(t *testing.T) {
	q, _ := setupQueue(t, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, attempt(1, webhooks.EventDataRegistered, webhooks.RecordData{})))
	require.NoError(t, q.Clear(ctx))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_ServerErrors(t *testing.T) {
	q, mr := setupQueue(t, nil)
	mr.SetError("ERR injected failure")
	defer mr.SetError("")

	ctx := context.Background()
	assert.Error(t, q.Enqueue(ctx, attempt(1, webhooks.EventDataRegistered, webhooks.RecordData{})))
	_, err := q.Len(ctx)
	assert.Error(t, err)

	var redisErr redis.Error
	assert.ErrorAs(t, q.Clear(ctx), &redisErr)
}

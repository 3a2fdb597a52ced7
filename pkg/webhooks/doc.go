// Package webhooks delivers data lifecycle events to company-registered HTTP endpoints.
//
// # Overview
//
// A Service ties together the endpoint registry (EndpointStore), the delivery
// queue (Queue), the Notifier that turns events into queued attempts, and the
// Processor that drains the queue on a fixed tick, performs signed HTTP POSTs,
// retries failures with exponential backoff and disables endpoints that keep failing.
//
// # Webhook Events
//
// data_registered, data_deleted, deletion_completed
//
// # Usage Example
//
// Wire and start the service:
//
//	svc := webhooks.NewService(webhooks.Options{
//		Store:  webhooks.NewMemoryStore(nil),
//		Queue:  webhooks.NewMemoryQueue(),
//		Logger: logger,
//	})
//	svc.Start(ctx)
//	defer svc.Close(context.Background())
//
// Register an endpoint:
//
//	id, err := svc.Register(ctx, "acme", "https://acme.example.com/hooks",
//		[]webhooks.EventType{webhooks.EventDataRegistered}, "webhook-secret")
//
// Trigger an event (returns once attempts are queued):
//
//	svc.NotifyDataRegistered(ctx, userDID, commitmentHash, "email", "acme", txHash)
//
// Verify signature (receiver side):
//
//	sig := r.Header.Get(webhooks.HeaderSignature)
//	if !webhooks.VerifySignature(body, sig, secret) {
//		return errors.New("invalid signature")
//	}
//
// # Retry Policy
//
// Max attempts per chain: 3
// Backoff before attempt k+1: 1s * 2^(k-1), i.e. 1s then 2s
// Timeout per attempt: 30s
// Endpoint disabled after 10 failures without an intervening success
//
// # Related Packages
//
//   - pkg/storage/sqlstore: durable EndpointStore
//   - pkg/storage/redisqueue: durable Queue
package webhooks

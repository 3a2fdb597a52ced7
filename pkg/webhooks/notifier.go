package webhooks

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/herald/pkg/observability"
)

// Notifier turns lifecycle events into queued delivery attempts. It never
// waits for delivery; delivery outcomes are only visible through stats and logs.
type Notifier struct {
	store   EndpointStore
	queue   Queue
	clock   clockwork.Clock
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewNotifier creates a notifier. Zero-valued options are filled with defaults.
func NewNotifier(opts Options) *Notifier {
	opts = opts.withDefaults()
	return &Notifier{
		store:   opts.Store,
		queue:   opts.Queue,
		clock:   opts.Clock,
		logger:  opts.Logger.WithField("component", "webhook_notifier"),
		metrics: opts.Metrics,
	}
}

// NotifyDataRegistered announces that a record was registered for a company
func (n *Notifier) NotifyDataRegistered(ctx context.Context, userDID, commitmentHash, dataType, companyID, txHash string) (int, error) {
	data := RecordData{
		CommitmentHash: commitmentHash,
		DataType:       dataType,
		CompanyID:      companyID,
		TxHash:         txHash,
	}
	return n.Notify(ctx, companyID, NewPayload(EventDataRegistered, userDID, n.clock.Now(), data))
}

// NotifyDataDeleted announces that a record was deleted for a company
func (n *Notifier) NotifyDataDeleted(ctx context.Context, userDID, commitmentHash, dataType, companyID, txHash string) (int, error) {
	data := RecordData{
		CommitmentHash: commitmentHash,
		DataType:       dataType,
		CompanyID:      companyID,
		TxHash:         txHash,
	}
	return n.Notify(ctx, companyID, NewPayload(EventDataDeleted, userDID, n.clock.Now(), data))
}

// NotifyDeletionCompleted announces the end of a batch deletion
func (n *Notifier) NotifyDeletionCompleted(ctx context.Context, userDID, companyID string, summary DeletionSummary) (int, error) {
	summary.CompanyID = companyID
	if summary.DeletionProofs == nil {
		summary.DeletionProofs = []DeletionProof{}
	}
	return n.Notify(ctx, companyID, NewPayload(EventDeletionCompleted, userDID, n.clock.Now(), summary))
}

// Notify enqueues one attempt-1 delivery per active endpoint of companyID
// subscribed to the payload's event. It returns the number of attempts enqueued.
func (n *Notifier) Notify(ctx context.Context, companyID string, payload *Payload) (int, error) {
	endpoints, err := n.store.ListByCompany(ctx, companyID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve endpoints: %w", err)
	}

	now := n.clock.Now()
	enqueued := 0
	for _, endpoint := range endpoints {
		if !endpoint.Matches(companyID, payload.Event) {
			continue
		}

		id := NewAttemptID()
		attempt := &DeliveryAttempt{
			ID:          id,
			ChainID:     id,
			EndpointID:  endpoint.ID,
			Payload:     payload,
			Attempt:     1,
			ScheduledAt: now,
		}
		if err := n.queue.Enqueue(ctx, attempt); err != nil {
			return enqueued, fmt.Errorf("failed to enqueue delivery for endpoint %s: %w", endpoint.ID, err)
		}
		enqueued++
	}

	n.metrics.RecordNotification(string(payload.Event), enqueued)
	if enqueued > 0 {
		n.logger.WithFields(map[string]interface{}{
			"event":      string(payload.Event),
			"company_id": companyID,
			"enqueued":   enqueued,
		}).Debug("Queued webhook deliveries")
	}
	return enqueued, nil
}

package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/herald/pkg/observability"
)

// Options wires the collaborators of a Service. Nil collaborators get
// in-memory or real-time defaults.
type Options struct {
	Store      EndpointStore
	Queue      Queue
	HTTPClient *http.Client
	Clock      clockwork.Clock
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Results    *ResultLog

	Processor ProcessorConfig

	ResultLogSize int
	ResultLogTTL  time.Duration

	// KeepQueueOnClose leaves pending attempts in the queue on Close.
	// Only meaningful for durable queues.
	KeepQueueOnClose bool
}

func (o Options) withDefaults() Options {
	o.Processor = o.Processor.withDefaults()

	if o.Queue == nil {
		o.Queue = NewMemoryQueue()
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Store == nil {
		o.Store = NewMemoryStore(o.Clock)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{
			Timeout:   o.Processor.DeliveryTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if o.Logger == nil {
		o.Logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}
	if o.Results == nil {
		o.Results = NewResultLogWithClock(o.ResultLogSize, o.ResultLogTTL, o.Clock)
	}
	return o
}

// Stats is the management view of the engine
type Stats struct {
	TotalWebhooks     int            `json:"totalWebhooks"`
	ActiveWebhooks    int            `json:"activeWebhooks"`
	QueuedDeliveries  int            `json:"queuedDeliveries"`
	PendingRetries    int            `json:"pendingRetries"`
	WebhooksByCompany map[string]int `json:"webhooksByCompany"`
}

// Service is the webhook delivery engine: registry management, event
// notification and the background delivery processor.
type Service struct {
	opts      Options
	store     EndpointStore
	queue     Queue
	clock     clockwork.Clock
	logger    *observability.Logger
	metrics   *observability.Metrics
	notifier  *Notifier
	processor *Processor
	closed    atomic.Bool
}

// NewService creates a service; call Start to begin delivering
func NewService(opts Options) *Service {
	opts = opts.withDefaults()

	return &Service{
		opts:      opts,
		store:     opts.Store,
		queue:     opts.Queue,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		notifier:  NewNotifier(opts),
		processor: NewProcessor(opts),
	}
}

// Start begins the delivery tick loop
func (s *Service) Start(ctx context.Context) {
	s.processor.Start(ctx)
}

// Close stops delivery, cancels pending retries and discards queued attempts
// unless KeepQueueOnClose is set. Notify calls fail with ErrServiceClosed afterwards.
func (s *Service) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.processor.Close(ctx, !s.opts.KeepQueueOnClose)
}

// Processor exposes the delivery processor, mainly for single-stepping in tests
func (s *Service) Processor() *Processor {
	return s.processor
}

// Register creates an active endpoint and returns its id
func (s *Service) Register(ctx context.Context, companyID, url string, events []EventType, secret string) (string, error) {
	endpoint := &Endpoint{
		CompanyID: companyID,
		URL:       url,
		Secret:    secret,
		Events:    append([]EventType(nil), events...),
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.Create(ctx, endpoint); err != nil {
		return "", fmt.Errorf("failed to register webhook: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"endpoint_id": endpoint.ID,
		"company_id":  companyID,
	}).Info("Webhook registered")
	return endpoint.ID, nil
}

// Get returns an endpoint or ErrEndpointNotFound
func (s *Service) Get(ctx context.Context, id string) (*Endpoint, error) {
	return s.store.Get(ctx, id)
}

// List returns the endpoints of a company
func (s *Service) List(ctx context.Context, companyID string) ([]*Endpoint, error) {
	return s.store.ListByCompany(ctx, companyID)
}

// ListAll returns every registered endpoint
func (s *Service) ListAll(ctx context.Context) ([]*Endpoint, error) {
	return s.store.List(ctx)
}

// Update merges a partial update; it returns false for an unknown id.
// Setting Active to true is the only way to re-enable a disabled endpoint.
func (s *Service) Update(ctx context.Context, id string, update EndpointUpdate) (bool, error) {
	ok, err := s.store.Update(ctx, id, update)
	if err != nil {
		return false, fmt.Errorf("failed to update webhook: %w", err)
	}
	if ok {
		s.logger.WithField("endpoint_id", id).Info("Webhook updated")
	}
	return ok, nil
}

// Activate re-enables an endpoint
func (s *Service) Activate(ctx context.Context, id string) (bool, error) {
	active := true
	return s.Update(ctx, id, EndpointUpdate{Active: &active})
}

// Deactivate disables an endpoint
func (s *Service) Deactivate(ctx context.Context, id string) (bool, error) {
	active := false
	return s.Update(ctx, id, EndpointUpdate{Active: &active})
}

// Remove deletes an endpoint; it returns false for an unknown id
func (s *Service) Remove(ctx context.Context, id string) (bool, error) {
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove webhook: %w", err)
	}
	if ok {
		s.logger.WithField("endpoint_id", id).Info("Webhook removed")
	}
	return ok, nil
}

// GetStats reports registry and queue counters. It has no side effects
// beyond refreshing gauges.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	endpoints, err := s.store.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list webhooks: %w", err)
	}
	queued, err := s.queue.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read queue length: %w", err)
	}

	stats := Stats{
		TotalWebhooks:     len(endpoints),
		QueuedDeliveries:  queued,
		PendingRetries:    s.processor.Retries().Len(),
		WebhooksByCompany: make(map[string]int),
	}
	for _, e := range endpoints {
		if e.Active {
			stats.ActiveWebhooks++
		}
		stats.WebhooksByCompany[e.CompanyID]++
	}

	s.metrics.SetEndpoints(stats.TotalWebhooks, stats.ActiveWebhooks)
	s.metrics.SetQueueDepth(stats.QueuedDeliveries)
	return stats, nil
}

// Deliveries returns the most recent delivery results of an endpoint
func (s *Service) Deliveries(endpointID string, limit int) []*DeliveryResult {
	return s.processor.Results().GetByEndpoint(endpointID, limit)
}

// DeliveryStats summarizes the retained results of an endpoint
func (s *Service) DeliveryStats(endpointID string) DeliveryStats {
	return s.processor.Results().Stats(endpointID)
}

// NotifyDataRegistered queues data_registered deliveries for a company
func (s *Service) NotifyDataRegistered(ctx context.Context, userDID, commitmentHash, dataType, companyID, txHash string) (int, error) {
	if s.closed.Load() {
		return 0, ErrServiceClosed
	}
	return s.notifier.NotifyDataRegistered(ctx, userDID, commitmentHash, dataType, companyID, txHash)
}

// NotifyDataDeleted queues data_deleted deliveries for a company
func (s *Service) NotifyDataDeleted(ctx context.Context, userDID, commitmentHash, dataType, companyID, txHash string) (int, error) {
	if s.closed.Load() {
		return 0, ErrServiceClosed
	}
	return s.notifier.NotifyDataDeleted(ctx, userDID, commitmentHash, dataType, companyID, txHash)
}

// NotifyDeletionCompleted queues deletion_completed deliveries for a company
func (s *Service) NotifyDeletionCompleted(ctx context.Context, userDID, companyID string, summary DeletionSummary) (int, error) {
	if s.closed.Load() {
		return 0, ErrServiceClosed
	}
	return s.notifier.NotifyDeletionCompleted(ctx, userDID, companyID, summary)
}

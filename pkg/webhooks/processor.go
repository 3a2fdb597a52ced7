package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/herald/pkg/observability"
)

var deliveryTracer = otel.Tracer("herald/webhooks/processor")

// maxResponseDrain bounds how much of a response body is read before closing
const maxResponseDrain = 64 << 10

// ProcessorConfig configures the delivery state machine
type ProcessorConfig struct {
	TickInterval     time.Duration
	BatchSize        int
	DeliveryTimeout  time.Duration
	DisableThreshold int
	Retry            RetryConfig
}

// DefaultProcessorConfig returns the default processor configuration
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		TickInterval:     1 * time.Second,
		BatchSize:        10,
		DeliveryTimeout:  30 * time.Second,
		DisableThreshold: 10,
		Retry:            DefaultRetryConfig(),
	}
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	d := DefaultProcessorConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = d.DeliveryTimeout
	}
	if c.DisableThreshold <= 0 {
		c.DisableThreshold = d.DisableThreshold
	}
	return c
}

// Processor drains the queue on a fixed tick and delivers attempts over HTTP
type Processor struct {
	config  ProcessorConfig
	store   EndpointStore
	queue   Queue
	client  *http.Client
	clock   clockwork.Clock
	policy  *RetryPolicy
	retries *RetrySet
	results *ResultLog
	logger  *observability.Logger
	metrics *observability.Metrics

	baseCtx context.Context
	cancel  context.CancelFunc

	inProgress atomic.Bool
	started    atomic.Bool

	// lifecycle is held for reading while an outcome is applied and for
	// writing while closing, so no outcome is applied after Close.
	lifecycle sync.RWMutex
	closed    bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewProcessor creates a processor. Zero-valued options are filled with defaults.
func NewProcessor(opts Options) *Processor {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Processor{
		config:  opts.Processor,
		store:   opts.Store,
		queue:   opts.Queue,
		client:  opts.HTTPClient,
		clock:   opts.Clock,
		policy:  NewRetryPolicy(opts.Processor.Retry),
		retries: NewRetrySet(opts.Clock),
		results: opts.Results,
		logger:  opts.Logger.WithField("component", "webhook_processor"),
		metrics: opts.Metrics,
		baseCtx: ctx,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Retries exposes the pending retry set
func (p *Processor) Retries() *RetrySet {
	return p.retries
}

// Results exposes the delivery result log
func (p *Processor) Results() *ResultLog {
	return p.results
}

// Start begins ticking. It is a no-op after the first call.
func (p *Processor) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.started.Store(true)
		ticker := p.clock.NewTicker(p.config.TickInterval)

		go func() {
			defer close(p.doneCh)
			defer ticker.Stop()

			p.logger.Infof("Webhook processor started (tick=%s batch=%d)", p.config.TickInterval, p.config.BatchSize)
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.stopCh:
					return
				case <-ticker.Chan():
					p.Tick(p.baseCtx)
				}
			}
		}()
	})
}

// Close stops the ticker, cancels every pending retry and in-flight request,
// and optionally discards the queue. Outcomes arriving afterwards are ignored.
func (p *Processor) Close(ctx context.Context, discardQueue bool) error {
	var err error
	p.closeOnce.Do(func() {
		p.lifecycle.Lock()
		p.closed = true
		p.lifecycle.Unlock()

		close(p.stopCh)
		p.cancel()

		if p.started.Load() {
			select {
			case <-p.doneCh:
			case <-ctx.Done():
				err = fmt.Errorf("waiting for processor loop: %w", ctx.Err())
			}
		}

		cancelled := p.retries.CancelAll()
		p.metrics.SetPendingRetries(0)

		if discardQueue {
			if clearErr := p.queue.Clear(ctx); clearErr != nil && err == nil {
				err = fmt.Errorf("failed to discard queue: %w", clearErr)
			}
		}

		p.logger.WithField("cancelled_retries", cancelled).Info("Webhook processor stopped")
	})
	return err
}

func (p *Processor) isClosed() bool {
	p.lifecycle.RLock()
	defer p.lifecycle.RUnlock()
	return p.closed
}

// Tick drains one batch and delivers it, returning the number of attempts taken.
// A tick that starts while another is running returns 0 without touching the queue.
func (p *Processor) Tick(ctx context.Context) int {
	if p.isClosed() {
		return 0
	}
	if !p.inProgress.CompareAndSwap(false, true) {
		p.logger.Debug("Previous batch still in progress, skipping tick")
		return 0
	}
	defer p.inProgress.Store(false)
	defer observability.RecoverPanic(p.logger, "webhook processor tick")

	batch, err := p.queue.Dequeue(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.WithError(err).Error("Failed to dequeue delivery attempts")
		return 0
	}
	if depth, err := p.queue.Len(ctx); err == nil {
		p.metrics.SetQueueDepth(depth)
	}
	if len(batch) == 0 {
		return 0
	}

	// Every delivery reports nil so one failure never cancels its siblings
	var eg errgroup.Group
	for _, attempt := range batch {
		attempt := attempt
		eg.Go(func() error {
			defer observability.RecoverPanic(p.logger.WithField("delivery_id", attempt.ID), "webhook delivery")
			p.deliver(ctx, attempt)
			return nil
		})
	}
	_ = eg.Wait()

	return len(batch)
}

// deliver performs one attempt and applies its outcome
func (p *Processor) deliver(ctx context.Context, attempt *DeliveryAttempt) *DeliveryResult {
	event := attempt.Payload.Event

	ctx, span := deliveryTracer.Start(ctx, "webhooks.deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("webhook.delivery_id", attempt.ID),
			attribute.String("webhook.endpoint_id", attempt.EndpointID),
			attribute.String("webhook.event", string(event)),
			attribute.Int("webhook.attempt", attempt.Attempt),
		),
	)
	defer span.End()

	logger := observability.UpdateLoggerWithTraceContext(ctx, p.logger).WithFields(map[string]interface{}{
		"delivery_id": attempt.ID,
		"chain_id":    attempt.ChainID,
		"endpoint_id": attempt.EndpointID,
		"event":       string(event),
		"attempt":     attempt.Attempt,
	})

	endpoint, err := p.store.Get(ctx, attempt.EndpointID)
	if err != nil || !endpoint.Active {
		if err != nil && !errors.Is(err, ErrEndpointNotFound) {
			logger = logger.WithError(err)
		}
		logger.Warn("Dropping delivery: endpoint missing or inactive")
		span.SetStatus(codes.Error, "endpoint unavailable")
		p.metrics.RecordDelivery(string(event), string(ChainDropped), 0)
		return &DeliveryResult{
			AttemptID:  attempt.ID,
			ChainID:    attempt.ChainID,
			EndpointID: attempt.EndpointID,
			Event:      event,
			Attempt:    attempt.Attempt,
			ErrorKind:  ErrorKindEndpointUnavailable,
			State:      ChainDropped,
		}
	}

	start := p.clock.Now()
	statusCode, sendErr := p.send(ctx, endpoint, attempt)
	elapsed := p.clock.Since(start)

	p.lifecycle.RLock()
	defer p.lifecycle.RUnlock()
	if p.closed {
		logger.Debug("Processor closed, ignoring delivery outcome")
		return nil
	}

	// Bookkeeping must not be cut short by a cancelled delivery context
	bookCtx := context.WithoutCancel(ctx)

	result := &DeliveryResult{
		AttemptID:    attempt.ID,
		ChainID:      attempt.ChainID,
		EndpointID:   endpoint.ID,
		Event:        event,
		Attempt:      attempt.Attempt,
		StatusCode:   statusCode,
		ResponseTime: elapsed,
		State:        ChainInFlight,
		CompletedAt:  p.clock.Now(),
	}

	if sendErr == nil {
		result.Success = true
		result.State = ChainDelivered
		if err := p.store.RecordSuccess(bookCtx, endpoint.ID, result.CompletedAt); err != nil {
			logger.WithError(err).Error("Failed to record delivery success")
		}
		p.results.Add(result)
		p.metrics.RecordDelivery(string(event), string(ChainDelivered), elapsed)
		span.SetStatus(codes.Ok, "delivered")
		logger.WithField("status_code", statusCode).Info("Webhook delivered")
		return result
	}

	kind := classifyError(sendErr)
	result.ErrorKind = kind
	result.ErrorMessage = sendErr.Error()
	span.RecordError(sendErr)
	span.SetStatus(codes.Error, string(kind))
	p.metrics.RecordDeliveryError(string(kind))
	logger = logger.WithError(sendErr).WithField("error_kind", string(kind))

	updated, err := p.store.RecordFailure(bookCtx, endpoint.ID, p.config.DisableThreshold)
	if err != nil {
		logger.WithField("record_error", err.Error()).Error("Failed to record delivery failure")
	} else if endpoint.Active && !updated.Active {
		p.metrics.RecordEndpointDisabled()
		logger.WithField("failure_count", updated.FailureCount).Warn("Endpoint disabled after repeated delivery failures")
	}

	if p.policy.ShouldRetry(attempt.Attempt) {
		delay := p.policy.NextRetryDelay(attempt.Attempt)
		next := &DeliveryAttempt{
			ID:          NewAttemptID(),
			ChainID:     attempt.ChainID,
			EndpointID:  attempt.EndpointID,
			Payload:     attempt.Payload,
			Attempt:     attempt.Attempt + 1,
			ScheduledAt: result.CompletedAt.Add(delay),
		}
		if p.retries.Schedule(next, delay, p.enqueueRetry) {
			result.State = ChainRetryScheduled
			p.metrics.SetPendingRetries(p.retries.Len())
			logger.WithField("retry_in", delay.String()).Warn("Webhook delivery failed, retry scheduled")
		} else {
			result.State = ChainPermanentlyFailed
			logger.Warn("Webhook delivery failed and retries are closed")
		}
	} else {
		result.State = ChainPermanentlyFailed
		logger.Error("Webhook delivery permanently failed")
	}

	p.results.Add(result)
	p.metrics.RecordDelivery(string(event), string(result.State), elapsed)
	return result
}

// enqueueRetry pushes a due retry back onto the queue. It holds the lifecycle
// read lock so Close cannot clear the queue between the closed check and the push.
func (p *Processor) enqueueRetry(attempt *DeliveryAttempt) {
	defer observability.RecoverPanic(p.logger, "webhook retry")

	p.lifecycle.RLock()
	defer p.lifecycle.RUnlock()
	if p.closed {
		p.logger.WithField("delivery_id", attempt.ID).Debug("Processor closed, dropping due retry")
		return
	}

	if err := p.queue.Enqueue(p.baseCtx, attempt); err != nil {
		p.logger.WithError(err).WithField("delivery_id", attempt.ID).Error("Failed to enqueue retry")
	}
	p.metrics.SetPendingRetries(p.retries.Len())
}

// send POSTs the payload and returns the response status code
func (p *Processor) send(ctx context.Context, endpoint *Endpoint, attempt *DeliveryAttempt) (int, error) {
	body, err := CanonicalJSON(attempt.Payload)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(HeaderEvent, string(attempt.Payload.Event))
	req.Header.Set(HeaderDeliveryID, attempt.ID)
	req.Header.Set(HeaderTimestamp, attempt.Payload.Timestamp)

	if endpoint.Secret != "" {
		req.Header.Set(HeaderSignature, generateSignature(body, endpoint.Secret))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &StatusError{Code: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

// classifyError maps a delivery error onto the error taxonomy
func classifyError(err error) ErrorKind {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return ErrorKindHTTPStatus
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}
	return ErrorKindNetwork
}

// NewAttemptID returns a fresh delivery identifier
func NewAttemptID() string {
	return uuid.New().String()
}

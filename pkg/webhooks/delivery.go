package webhooks

import (
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

// ChainState is the state of a delivery chain after an attempt was processed
type ChainState string

const (
	ChainScheduled         ChainState = "scheduled"
	ChainInFlight          ChainState = "in_flight"
	ChainDelivered         ChainState = "delivered"
	ChainRetryScheduled    ChainState = "retry_scheduled"
	ChainPermanentlyFailed ChainState = "permanently_failed"
	ChainDropped           ChainState = "dropped"
)

// ErrorKind classifies a failed delivery
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindNetwork             ErrorKind = "network"
	ErrorKindTimeout             ErrorKind = "timeout"
	ErrorKindHTTPStatus          ErrorKind = "http_status"
	ErrorKindEndpointUnavailable ErrorKind = "endpoint_unavailable"
)

// StatusError is returned when an endpoint answers outside [200,300)
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned non-2xx status: %d", e.Code)
}

// DeliveryAttempt is one try at POSTing a payload to an endpoint.
// Attempts are immutable once queued; a retry is a new attempt with the same ChainID.
type DeliveryAttempt struct {
	ID          string    `json:"id"`
	ChainID     string    `json:"chainId"`
	EndpointID  string    `json:"endpointId"`
	Payload     *Payload  `json:"payload"`
	Attempt     int       `json:"attempt"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// DeliveryResult is the outcome of a processed attempt
type DeliveryResult struct {
	AttemptID    string        `json:"attemptId"`
	ChainID      string        `json:"chainId"`
	EndpointID   string        `json:"endpointId"`
	Event        EventType     `json:"event"`
	Attempt      int           `json:"attempt"`
	Success      bool          `json:"success"`
	StatusCode   int           `json:"statusCode,omitempty"`
	ErrorKind    ErrorKind     `json:"errorKind,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	ResponseTime time.Duration `json:"responseTime"`
	State        ChainState    `json:"state"`
	CompletedAt  time.Time     `json:"completedAt"`
}

// ResultLog keeps the most recent delivery results, bounded by size and age.
// Entries older than the TTL are hidden on read and evicted lazily, so the log
// owns no background goroutine.
type ResultLog struct {
	cache *lru.Cache[string, loggedResult]
	ttl   time.Duration
	clock clockwork.Clock
}

type loggedResult struct {
	result  *DeliveryResult
	addedAt time.Time
}

// NewResultLog creates a result log holding at most size entries for ttl.
// A zero ttl keeps entries until they are evicted by size.
func NewResultLog(size int, ttl time.Duration) *ResultLog {
	return NewResultLogWithClock(size, ttl, clockwork.NewRealClock())
}

// NewResultLogWithClock is NewResultLog with an explicit clock for ageing entries
func NewResultLogWithClock(size int, ttl time.Duration, clock clockwork.Clock) *ResultLog {
	if size <= 0 {
		size = 1000
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	// lru.New only fails for a non-positive size
	cache, _ := lru.New[string, loggedResult](size)
	return &ResultLog{cache: cache, ttl: ttl, clock: clock}
}

func (l *ResultLog) expired(e loggedResult, now time.Time) bool {
	return l.ttl > 0 && now.Sub(e.addedAt) >= l.ttl
}

// Add records a result
func (l *ResultLog) Add(result *DeliveryResult) {
	l.cache.Add(result.AttemptID, loggedResult{result: result, addedAt: l.clock.Now()})
}

// Get retrieves the result of an attempt
func (l *ResultLog) Get(attemptID string) (*DeliveryResult, bool) {
	e, ok := l.cache.Get(attemptID)
	if !ok {
		return nil, false
	}
	if l.expired(e, l.clock.Now()) {
		l.cache.Remove(attemptID)
		return nil, false
	}
	return e.result, true
}

// Len returns the number of retained results
func (l *ResultLog) Len() int {
	return len(l.values())
}

// values returns live results oldest first and evicts expired ones
func (l *ResultLog) values() []*DeliveryResult {
	now := l.clock.Now()
	keys := l.cache.Keys()
	result := make([]*DeliveryResult, 0, len(keys))
	for _, key := range keys {
		e, ok := l.cache.Peek(key)
		if !ok {
			continue
		}
		if l.expired(e, now) {
			l.cache.Remove(key)
			continue
		}
		result = append(result, e.result)
	}
	return result
}

// GetByEndpoint returns results for an endpoint, newest first
func (l *ResultLog) GetByEndpoint(endpointID string, limit int) []*DeliveryResult {
	var result []*DeliveryResult
	for _, r := range l.values() {
		if r.EndpointID == endpointID {
			result = append(result, r)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CompletedAt.After(result[j].CompletedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// GetByChain returns every retained attempt of a chain in attempt order
func (l *ResultLog) GetByChain(chainID string) []*DeliveryResult {
	var result []*DeliveryResult
	for _, r := range l.values() {
		if r.ChainID == chainID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Attempt < result[j].Attempt
	})
	return result
}

// DeliveryStats summarizes retained results of one endpoint
type DeliveryStats struct {
	EndpointID      string        `json:"endpointId"`
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Retrying        int           `json:"retrying"`
	SuccessRate     float64       `json:"successRate"`
	AverageDuration time.Duration `json:"averageDuration"`
}

// Stats computes delivery statistics for an endpoint
func (l *ResultLog) Stats(endpointID string) DeliveryStats {
	stats := DeliveryStats{EndpointID: endpointID}

	var successDuration time.Duration
	for _, r := range l.values() {
		if r.EndpointID != endpointID {
			continue
		}

		stats.Total++
		switch r.State {
		case ChainDelivered:
			stats.Successful++
			successDuration += r.ResponseTime
		case ChainPermanentlyFailed:
			stats.Failed++
		case ChainRetryScheduled:
			stats.Retrying++
		}
	}

	if stats.Successful > 0 {
		stats.AverageDuration = successDuration / time.Duration(stats.Successful)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}

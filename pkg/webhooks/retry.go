package webhooks

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff retry logic
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a new retry policy, filling unset fields with defaults
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}

	return &RetryPolicy{
		config: config,
	}
}

// MaxAttempts returns the number of attempts a chain may make
func (p *RetryPolicy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// ShouldRetry reports whether a failed attempt gets a follow-up attempt
func (p *RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.config.MaxAttempts
}

// NextRetryDelay calculates the delay between a failed attempt and the next one
func (p *RetryPolicy) NextRetryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.config.InitialDelay
	}

	// delay = initialDelay * (multiplier ^ (attempt - 1))
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempt-1))

	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}

	return time.Duration(delay)
}

// PendingRetry describes a scheduled but not yet enqueued attempt
type PendingRetry struct {
	AttemptID  string    `json:"attemptId"`
	ChainID    string    `json:"chainId"`
	EndpointID string    `json:"endpointId"`
	Attempt    int       `json:"attempt"`
	DueAt      time.Time `json:"dueAt"`
}

type retryEntry struct {
	info  PendingRetry
	timer clockwork.Timer
}

// RetrySet tracks deferred retries by the id of the attempt they will enqueue.
// Once CancelAll has run no scheduled callback fires.
type RetrySet struct {
	clock   clockwork.Clock
	mu      sync.Mutex
	entries map[string]*retryEntry
	closed  bool
}

// NewRetrySet creates a retry set driven by clock
func NewRetrySet(clock clockwork.Clock) *RetrySet {
	return &RetrySet{
		clock:   clock,
		entries: make(map[string]*retryEntry),
	}
}

// Schedule runs fire with attempt after delay unless cancelled first.
// It returns false if the set is already closed.
func (s *RetrySet) Schedule(attempt *DeliveryAttempt, delay time.Duration, fire func(*DeliveryAttempt)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	entry := &retryEntry{
		info: PendingRetry{
			AttemptID:  attempt.ID,
			ChainID:    attempt.ChainID,
			EndpointID: attempt.EndpointID,
			Attempt:    attempt.Attempt,
			DueAt:      s.clock.Now().Add(delay),
		},
	}
	s.entries[attempt.ID] = entry

	entry.timer = s.clock.AfterFunc(delay, func() {
		if !s.take(attempt.ID) {
			return
		}
		fire(attempt)
	})
	return true
}

// take removes a due entry; false means it was cancelled
func (s *RetrySet) take(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	return true
}

// Cancel cancels one pending retry
func (s *RetrySet) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(s.entries, id)
	return true
}

// CancelAll cancels every pending retry, closes the set and returns how many were cancelled
func (s *RetrySet) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	for id, entry := range s.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(s.entries, id)
	}
	s.closed = true
	return n
}

// Len returns the number of pending retries
func (s *RetrySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Pending lists pending retries ordered by due time
func (s *RetrySet) Pending() []PendingRetry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]PendingRetry, 0, len(s.entries))
	for _, entry := range s.entries {
		result = append(result, entry.info)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DueAt.Before(result[j].DueAt)
	})
	return result
}

package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
)

// RetryStrategy defines the backoff intervals applied to a limited host.
type RetryStrategy struct {
	Intervals []time.Duration
}

// DefaultRetryStrategy returns the default backoff strategy.
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		Intervals: []time.Duration{
			30 * time.Second,
			time.Minute,
			2 * time.Minute,
			5 * time.Minute,
		},
	}
}

func (s *RetryStrategy) interval(attempt int) time.Duration {
	if len(s.Intervals) == 0 {
		return 0
	}
	if attempt < len(s.Intervals) {
		return s.Intervals[attempt]
	}
	return s.Intervals[len(s.Intervals)-1]
}

// Event describes a rate limit occurrence for a host.
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	Host         string    `json:"host"`
	StatusCode   int       `json:"statusCode"`
	RetryAttempt int       `json:"retryAttempt"`
	NextRetryAt  time.Time `json:"nextRetryAt"`
}

// Handler tracks hosts that answered with a rate limit status and keeps
// them closed for admission until their backoff interval elapses.
type Handler struct {
	mu          sync.RWMutex
	limited     map[string]*Event
	strategy    *RetryStrategy
	now         func() time.Time
	onRateLimit func(Event)
	onRecovered func(host string)
}

// NewHandler creates a new rate limit handler.
func NewHandler(strategy *RetryStrategy) *Handler {
	if strategy == nil {
		strategy = DefaultRetryStrategy()
	}

	return &Handler{
		limited:  make(map[string]*Event),
		strategy: strategy,
		now:      time.Now,
	}
}

// SetOnRateLimit sets the callback for rate limit events.
func (h *Handler) SetOnRateLimit(callback func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRateLimit = callback
}

// SetOnRecovered sets the callback invoked when a host recovers.
func (h *Handler) SetOnRecovered(callback func(host string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecovered = callback
}

// IsRateLimited reports whether a host is inside its backoff interval.
func (h *Handler) IsRateLimited(host string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	event, ok := h.limited[host]
	return ok && h.now().Before(event.NextRetryAt)
}

// AnyRateLimited reports whether any host is inside its backoff interval.
func (h *Handler) AnyRateLimited() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	for _, event := range h.limited {
		if now.Before(event.NextRetryAt) {
			return true
		}
	}
	return false
}

// CheckResponse inspects a response status for rate limit indicators and
// reports whether the host is now limited.
func (h *Handler) CheckResponse(host string, statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusForbidden,
		509: // Bandwidth Limit Exceeded
		h.recordRateLimit(host, statusCode)
		return true

	default:
		h.checkRecovery(host)
		return false
	}
}

func (h *Handler) recordRateLimit(host string, statusCode int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	attempt := 0
	if existing, ok := h.limited[host]; ok {
		attempt = existing.RetryAttempt + 1
	}

	now := h.now()
	event := Event{
		Timestamp:    now,
		Host:         host,
		StatusCode:   statusCode,
		RetryAttempt: attempt,
		NextRetryAt:  now.Add(h.strategy.interval(attempt)),
	}
	h.limited[host] = &event

	logs.WithTag("host", host).
		WithTag("status", statusCode).
		WithTag("attempt", attempt).
		WithTag("next_retry_at", event.NextRetryAt.Format(time.RFC3339)).
		Warn("host rate limited")

	if h.onRateLimit != nil {
		go h.onRateLimit(event)
	}
}

func (h *Handler) checkRecovery(host string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.limited[host]; !ok {
		return
	}
	delete(h.limited, host)

	logs.WithTag("host", host).Info("host rate limit cleared")

	if h.onRecovered != nil {
		go h.onRecovered(host)
	}
}

// Clear drops the rate limit state of a host so that it is admitted again
// immediately.
func (h *Handler) Clear(host string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.limited, host)
}

// CurrentState returns a copy of the rate limit state of a host, or nil.
func (h *Handler) CurrentState(host string) *Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if event, ok := h.limited[host]; ok {
		eventCopy := *event
		return &eventCopy
	}
	return nil
}

package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	newHandler := func() *Handler {
		h := NewHandler(&RetryStrategy{
			Intervals: []time.Duration{time.Minute, 2 * time.Minute},
		})
		h.now = func() time.Time { return now }
		return h
	}

	t.Run("success does not limit", func(t *testing.T) {
		h := newHandler()
		require.False(t, h.CheckResponse("a.test", http.StatusOK))
		require.False(t, h.IsRateLimited("a.test"))
		require.False(t, h.AnyRateLimited())
	})

	t.Run("limit status codes", func(t *testing.T) {
		for _, code := range []int{http.StatusTooManyRequests, http.StatusForbidden, 509} {
			h := newHandler()
			require.True(t, h.CheckResponse("a.test", code))
			require.True(t, h.IsRateLimited("a.test"))
			require.False(t, h.IsRateLimited("b.test"))
			require.True(t, h.AnyRateLimited())
		}
	})

	t.Run("backoff grows then plateaus", func(t *testing.T) {
		h := newHandler()
		h.CheckResponse("a.test", http.StatusTooManyRequests)
		require.Equal(t, now.Add(time.Minute), h.CurrentState("a.test").NextRetryAt)

		h.CheckResponse("a.test", http.StatusTooManyRequests)
		require.Equal(t, now.Add(2*time.Minute), h.CurrentState("a.test").NextRetryAt)

		h.CheckResponse("a.test", http.StatusTooManyRequests)
		state := h.CurrentState("a.test")
		require.Equal(t, 2, state.RetryAttempt)
		require.Equal(t, now.Add(2*time.Minute), state.NextRetryAt)
	})

	t.Run("limit expires with time", func(t *testing.T) {
		h := newHandler()
		h.CheckResponse("a.test", http.StatusTooManyRequests)

		later := now.Add(time.Minute + time.Second)
		h.now = func() time.Time { return later }
		require.False(t, h.IsRateLimited("a.test"))
	})

	t.Run("recovery and clear", func(t *testing.T) {
		h := newHandler()
		recovered := make(chan string, 1)
		h.SetOnRecovered(func(host string) { recovered <- host })

		h.CheckResponse("a.test", http.StatusTooManyRequests)
		h.CheckResponse("a.test", http.StatusOK)
		require.Nil(t, h.CurrentState("a.test"))
		require.Equal(t, "a.test", <-recovered)

		h.CheckResponse("a.test", http.StatusTooManyRequests)
		h.Clear("a.test")
		require.False(t, h.IsRateLimited("a.test"))
	})
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryWindow struct {
	counts map[string]int64
	err    error
}

func (m *memoryWindow) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if m.err != nil {
		return false, 0, m.err
	}
	m.counts[scope]++
	return m.counts[scope] <= limit, m.counts[scope], nil
}

func callerRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/courier/orders/1/accept", nil)
	return req.WithContext(WithUserID(req.Context(), userID))
}

func TestRateLimitBlocksAfterLimitPerCaller(t *testing.T) {
	store := &memoryWindow{counts: map[string]int64{}}
	handler := RateLimit(NewRateLimitPolicy("accept", 10*time.Second, 2), store, nil)(okHandler())

	codes := []int{}
	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, callerRequest("courier-a"))
		codes = append(codes, resp.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest("courier-b"))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, store.counts, "accept:courier-b")
}

func TestRateLimitSurfacesStoreFailure(t *testing.T) {
	store := &memoryWindow{counts: map[string]int64{}, err: errors.New("redis down")}
	handler := RateLimit(NewRateLimitPolicy("accept", time.Second, 1), store, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest("courier-a"))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	store := &memoryWindow{counts: map[string]int64{}}
	handler := RateLimit(NewRateLimitPolicy("accept", 0, 0), store, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest("courier-a"))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Empty(t, store.counts)
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRequestIDKeepsWellFormedInboundID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "trace-abc-123")
	resp := httptest.NewRecorder()
	RequestID(nil)(okHandler()).ServeHTTP(resp, req)

	require.Equal(t, "trace-abc-123", resp.Header().Get(requestIDHeader))
}

func TestRequestIDReplacesUnsafeInboundID(t *testing.T) {
	for _, inbound := range []string{"", "has space", "line\nbreak", strings.Repeat("x", maxRequestIDLen+1)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, inbound)
		resp := httptest.NewRecorder()
		RequestID(nil)(okHandler()).ServeHTTP(resp, req)

		_, err := uuid.Parse(resp.Header().Get(requestIDHeader))
		require.NoError(t, err, "inbound %q", inbound)
	}
}

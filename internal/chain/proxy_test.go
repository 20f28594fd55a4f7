// ABOUTME: Tests for the chain read proxy using an httptest upstream
// ABOUTME: Covers the allow-list, rate limiting, metering, and upstream failures

package chain

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/ratelimit"
	"github.com/hexlayer/console/internal/store"
)

// allowAll is a limiter that never rejects.
type allowAll struct{}

func (allowAll) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: true, Remaining: 1}, nil
}

// denyAll is a limiter that always rejects with a fixed wait.
type denyAll struct{}

func (denyAll) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, RetryAfter: 30 * time.Second}, nil
}

func setupProxyStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// proxyRequest sends one authenticated JSON-RPC call through the proxy.
func proxyRequest(t *testing.T, p *Proxy, orgID, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/chain/rpc", strings.NewReader(body))
	req = req.WithContext(auth.WithAuth(req.Context(), &auth.AuthContext{
		UserID: "user-1",
		OrgID:  orgID,
		Role:   "member",
	}))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	return rec
}

func TestProxy_ForwardsAllowedMethod(t *testing.T) {
	s := setupProxyStore(t)

	var upstreamBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		upstreamBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10d4f"}`))
	}))
	defer upstream.Close()

	p := NewProxy(upstream.URL, 5*time.Second, allowAll{}, s)

	rec := proxyRequest(t, p, "org-1", `{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber","params":[]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "0x10d4f")
	assert.Contains(t, upstreamBody, "eth_blockNumber")

	// Request was metered
	stats, err := s.GetChainUsageStats(context.Background(), "org-1", store.UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RequestCount)
	assert.Equal(t, int64(0), stats.ErrorCount)
	assert.Equal(t, int64(1), stats.ByMethod["eth_blockNumber"])
}

func TestProxy_RejectsBatchRequests(t *testing.T) {
	s := setupProxyStore(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for batch requests")
	}))
	defer upstream.Close()

	p := NewProxy(upstream.URL, 5*time.Second, allowAll{}, s)

	// One request per call; batch arrays are a parse error
	rec := proxyRequest(t, p, "org-1", `[{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber"}]`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, -32700, resp.Error.Code)
}

func TestProxy_RejectsUnlistedMethod(t *testing.T) {
	s := setupProxyStore(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for rejected methods")
	}))
	defer upstream.Close()

	p := NewProxy(upstream.URL, 5*time.Second, allowAll{}, s)

	rec := proxyRequest(t, p, "org-1", `{"jsonrpc":"2.0","id":7,"method":"eth_sendTransaction","params":[]}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	var resp struct {
		ID    json.RawMessage `json:"id"`
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, -32601, resp.Error.Code)
	assert.JSONEq(t, "7", string(resp.ID))

	// Rejected calls are not metered
	stats, err := s.GetChainUsageStats(context.Background(), "org-1", store.UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.RequestCount)
}

func TestProxy_RateLimited(t *testing.T) {
	s := setupProxyStore(t)
	p := NewProxy("http://unused.invalid", 5*time.Second, denyAll{}, s)

	rec := proxyRequest(t, p, "org-1", `{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber"}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestProxy_UpstreamError(t *testing.T) {
	s := setupProxyStore(t)

	// Closed server: connections are refused, and no retry happens
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	p := NewProxy(upstream.URL, time.Second, allowAll{}, s)

	rec := proxyRequest(t, p, "org-1", `{"jsonrpc":"2.0","id":1,"method":"eth_gasPrice"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	// Failed calls are metered as errors
	stats, err := s.GetChainUsageStats(context.Background(), "org-1", store.UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RequestCount)
	assert.Equal(t, int64(1), stats.ErrorCount)
}

func TestProxy_InvalidJSON(t *testing.T) {
	s := setupProxyStore(t)
	p := NewProxy("http://unused.invalid", time.Second, allowAll{}, s)

	rec := proxyRequest(t, p, "org-1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "parse error")
}

func TestProxy_MissingMethod(t *testing.T) {
	s := setupProxyStore(t)
	p := NewProxy("http://unused.invalid", time.Second, allowAll{}, s)

	rec := proxyRequest(t, p, "org-1", `{"jsonrpc":"2.0","id":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxy_Unauthenticated(t *testing.T) {
	s := setupProxyStore(t)
	p := NewProxy("http://unused.invalid", time.Second, allowAll{}, s)

	req := httptest.NewRequest(http.MethodPost, "/api/chain/rpc", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProxy_WindowIntegration(t *testing.T) {
	s := setupProxyStore(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x0"}`))
	}))
	defer upstream.Close()

	window := ratelimit.NewSlidingWindow(2, time.Minute)
	defer window.Close()

	p := NewProxy(upstream.URL, 5*time.Second, window, s)

	body := `{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber"}`
	assert.Equal(t, http.StatusOK, proxyRequest(t, p, "org-1", body).Code)
	assert.Equal(t, http.StatusOK, proxyRequest(t, p, "org-1", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, proxyRequest(t, p, "org-1", body).Code)

	// Another org has its own window
	assert.Equal(t, http.StatusOK, proxyRequest(t, p, "org-2", body).Code)
}

// ABOUTME: JSON-RPC read proxy forwarding allow-listed methods to an upstream node
// ABOUTME: Rate limits per organization and meters every forwarded request

package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/metrics"
	"github.com/hexlayer/console/internal/ratelimit"
	"github.com/hexlayer/console/internal/store"
)

// allowedMethods is the read-oriented subset of the JSON-RPC surface the
// proxy forwards. Everything else is rejected before reaching the node.
var allowedMethods = map[string]bool{
	"eth_blockNumber":           true,
	"eth_getBalance":            true,
	"eth_call":                  true,
	"eth_getLogs":               true,
	"eth_getTransactionReceipt": true,
	"eth_getCode":               true,
	"eth_gasPrice":              true,
	"eth_sendRawTransaction":    true,
}

// maxBodySize bounds the accepted request body.
const maxBodySize = 1 << 20

// rpcRequest is the subset of a JSON-RPC request the proxy inspects.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// rpcError mirrors the JSON-RPC error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Proxy forwards JSON-RPC requests to the configured upstream.
// Requests are not retried; the caller sees upstream failures directly.
type Proxy struct {
	upstream string
	client   *http.Client
	limiter  ratelimit.Limiter
	usage    store.UsageStore
	logger   *slog.Logger
}

// NewProxy creates a chain proxy with the given upstream and request timeout.
func NewProxy(upstream string, timeout time.Duration, limiter ratelimit.Limiter, usage store.UsageStore) *Proxy {
	return &Proxy{
		upstream: upstream,
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
		usage:    usage,
		logger:   slog.Default().With("component", "chain-proxy"),
	}
}

// ServeHTTP handles one JSON-RPC request. Batch arrays are not accepted;
// each call carries a single request object. Must run behind auth.Middleware.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		writeRPCError(w, http.StatusUnauthorized, nil, -32000, "not authenticated")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, -32700, "reading request body")
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, -32700, "parse error")
		return
	}
	if req.Method == "" {
		writeRPCError(w, http.StatusBadRequest, req.ID, -32600, "invalid request")
		return
	}

	if !allowedMethods[req.Method] {
		p.logger.Warn("rejected method", "org_id", authCtx.OrgID, "method", req.Method)
		writeRPCError(w, http.StatusForbidden, req.ID, -32601, fmt.Sprintf("method %s is not available", req.Method))
		return
	}

	decision, err := p.limiter.Allow(r.Context(), authCtx.OrgID)
	if err != nil {
		p.logger.Error("rate limit check failed", "org_id", authCtx.OrgID, "error", err)
		writeRPCError(w, http.StatusInternalServerError, req.ID, -32000, "rate limit unavailable")
		return
	}
	if !decision.Allowed {
		metrics.RateLimitedTotal.Inc()
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
		writeRPCError(w, http.StatusTooManyRequests, req.ID, -32005, "rate limit exceeded")
		return
	}

	start := time.Now()
	status, respBody, err := p.forward(r, body)
	latency := time.Since(start)

	success := err == nil && status == http.StatusOK
	// Metering is detached from the request context so client disconnects
	// don't lose the row
	p.meter(context.WithoutCancel(r.Context()), authCtx.OrgID, req.Method, success, latency)

	if err != nil {
		p.logger.Error("upstream request failed", "org_id", authCtx.OrgID, "method", req.Method, "error", err)
		writeRPCError(w, http.StatusBadGateway, req.ID, -32000, "upstream unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(respBody)
}

// forward sends the raw request body upstream and returns the response.
func (p *Proxy) forward(r *http.Request, body []byte) (int, []byte, error) {
	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.upstream, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("building upstream request: %w", err)
	}
	upReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(upReq)
	if err != nil {
		return 0, nil, fmt.Errorf("calling upstream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, fmt.Errorf("reading upstream response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// meter records usage and metrics for a forwarded request.
func (p *Proxy) meter(ctx context.Context, orgID, method string, success bool, latency time.Duration) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	metrics.ChainRequestsTotal.WithLabelValues(method, outcome).Inc()
	metrics.ChainLatency.WithLabelValues(method).Observe(latency.Seconds())

	usage := &store.ChainUsage{
		OrgID:     orgID,
		Method:    method,
		Success:   success,
		LatencyMS: latency.Milliseconds(),
	}
	if err := p.usage.SaveChainUsage(ctx, usage); err != nil {
		p.logger.Error("saving chain usage", "org_id", orgID, "error", err)
	}
}

// writeRPCError writes a JSON-RPC error envelope with the given HTTP status.
func writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	if id == nil {
		id = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   rpcError{Code: code, Message: message},
	})
}

// retryAfterSeconds rounds a wait up to whole seconds, minimum one.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxResponseBytes = 4 << 20

// CallOptions describes one gateway call.
type CallOptions struct {
	// Method defaults to GET.
	Method string
	// Body is encoded as JSON unless it is already a json.RawMessage or []byte.
	Body any
	// Header is merged into the request; it cannot override Authorization.
	Header http.Header
}

// Gateway is the single entry point for authenticated calls to the server.
type Gateway struct {
	baseURL string
	client  *http.Client
	manager *Manager
	logger  *zap.Logger
}

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) GatewayOption {
	return func(g *Gateway) { g.client = client }
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger *zap.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

// NewGateway creates a gateway for baseURL (for example
// "https://api.example/api") reading credentials from manager.
func NewGateway(baseURL string, manager *Manager, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		manager: manager,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Call performs one request. A 401 invalidates the session that issued it.
// An empty 2xx body yields a nil result. Calls are never retried.
func (g *Gateway) Call(ctx context.Context, endpoint string, opts CallOptions) (json.RawMessage, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != nil {
		encoded, err := encodeBody(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+endpoint, body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Endpoint: endpoint, Err: err}
	}
	for key, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	token, gen := g.manager.credentials()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Del("Authorization")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Endpoint: endpoint, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if g.manager.invalidate(ctx, gen) {
			g.logger.Info("call rejected, session invalidated", zap.String("endpoint", endpoint))
		}
		return nil, &Error{Kind: KindUnauthorized, Endpoint: endpoint, Status: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:     KindHTTP,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Code:     errorCode(payload),
		}
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	if !json.Valid(payload) {
		return nil, &Error{
			Kind:     KindMalformedResponse,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Err:      errors.New("response is not valid JSON"),
		}
	}
	return json.RawMessage(payload), nil
}

func encodeBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	default:
		return json.Marshal(v)
	}
}

// errorCode extracts a string "error" field from an error body.
func errorCode(payload []byte) string {
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || len(body.Error) == 0 {
		return ""
	}
	var code string
	if err := json.Unmarshal(body.Error, &code); err == nil {
		return code
	}
	var detail struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body.Error, &detail); err == nil {
		return detail.Code
	}
	return ""
}

package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/moodcycle-gateway/internal/model/chat"
)

const maxProxyResponseBytes = 1 << 20

// ProxyBackend forwards admitted chat requests to an HTTP chat service.
type ProxyBackend struct {
	url    string
	client *http.Client
}

// NewProxyBackend targets url. A nil client uses a default one; deadlines
// come from the request context.
func NewProxyBackend(url string, client *http.Client) *ProxyBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &ProxyBackend{url: strings.TrimSpace(url), client: client}
}

// Reply posts the client body upstream and decodes {response, tokensUsed}.
func (p *ProxyBackend) Reply(ctx context.Context, req Request) (Reply, error) {
	body := req.Body
	if len(body) == 0 {
		var err error
		body, err = json.Marshal(chat.Request{Message: req.Message, Context: req.Context})
		if err != nil {
			return Reply{}, fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if req.DeviceID != "" {
		httpReq.Header.Set("X-Device-ID", req.DeviceID)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Reply{}, classify(ctx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Reply{}, fmt.Errorf("%w: upstream status %d", throttleClass(resp.Body), resp.StatusCode)
	case resp.StatusCode == http.StatusGatewayTimeout, resp.StatusCode == http.StatusRequestTimeout:
		return Reply{}, fmt.Errorf("%w: upstream status %d", ErrTimeout, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Reply{}, fmt.Errorf("%w: upstream status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload struct {
		Response   string `json:"response"`
		TokensUsed int    `json:"tokensUsed"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProxyResponseBytes)).Decode(&payload); err != nil {
		return Reply{}, classify(ctx, fmt.Errorf("decode upstream response: %w", err))
	}
	if strings.TrimSpace(payload.Response) == "" {
		return Reply{}, fmt.Errorf("%w: empty upstream response", ErrUnavailable)
	}

	return Reply{Text: payload.Response, TokensUsed: payload.TokensUsed}, nil
}

// throttleClass reads the error code of an upstream 429 body: quota and
// budget refusals are kept apart from plain throttling.
func throttleClass(body io.Reader) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(body, maxProxyResponseBytes)).Decode(&payload); err != nil {
		return ErrThrottled
	}
	switch payload.Error {
	case "QUOTA_EXCEEDED":
		return ErrQuotaExceeded
	case "BUDGET_EXCEEDED":
		return ErrBudgetExceeded
	default:
		return ErrThrottled
	}
}

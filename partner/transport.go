package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"wwcpsync/protocol"
)

// Transport delivers one message to a partner. A nil ack means the partner
// accepted everything.
type Transport interface {
	Name() string
	Send(ctx context.Context, msgType string, payload any) (*protocol.PushAck, error)
}

// Pinger is implemented by transports that can check that the partner is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health is implemented by transports that track partner availability.
type Health interface {
	Healthy() bool
}

// maxFailures is the number of consecutive failed requests after which an
// HTTP partner is reported unhealthy until the next successful request.
const maxFailures = 3

var httpPaths = map[string]string{
	protocol.TypeDataPush:   "/data",
	protocol.TypeStatusPush: "/status",
	protocol.TypeCDRPush:    "/cdrs",
}

// HTTPTransport posts JSON messages to a partner endpoint.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	failures   atomic.Int32
}

func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (t *HTTPTransport) Name() string    { return "http" }
func (t *HTTPTransport) BaseURL() string { return t.baseURL }

func (t *HTTPTransport) Healthy() bool { return t.failures.Load() < maxFailures }

func (t *HTTPTransport) Send(ctx context.Context, msgType string, payload any) (*protocol.PushAck, error) {
	path, ok := httpPaths[msgType]
	if !ok {
		return nil, fmt.Errorf("http transport: unsupported message type %s", msgType)
	}
	var ack protocol.PushAck
	if err := t.do(ctx, http.MethodPost, path, payload, &ack); err != nil {
		return nil, err
	}
	if len(ack.Rejected) == 0 {
		return nil, nil
	}
	return &ack, nil
}

func (t *HTTPTransport) Ping(ctx context.Context) error {
	return t.do(ctx, http.MethodGet, "/ping", nil, nil)
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body, result any) error {
	err := t.request(ctx, method, path, body, result)
	if err != nil {
		t.failures.Add(1)
		return err
	}
	t.failures.Store(0)
	return nil
}

func (t *HTTPTransport) request(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("partner marshal: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("partner %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("partner %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("partner read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("partner HTTP %d: %s", resp.StatusCode, string(data))
	}
	if result != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("partner decode: %w", err)
		}
	}
	return nil
}

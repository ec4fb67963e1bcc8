// Package backend holds the outbound HTTP client for proxied calls.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/michal-majer/s4kit-gateway/app/apperr"
)

// Response is a fully-read backend response. Bodies are bounded by the
// configured ceiling; oversized responses fail the call instead of
// being truncated.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Client struct {
	httpClient       *http.Client
	timeout          time.Duration
	maxResponseBytes int64
}

func NewClient(timeout time.Duration, maxResponseBytes int64) *Client {
	return &Client{
		// Per-request deadlines come from the context so inbound
		// cancellation aborts in-flight backend calls.
		httpClient:       &http.Client{},
		timeout:          timeout,
		maxResponseBytes: maxResponseBytes,
	}
}

// Do executes one outbound call with the client's bounded timeout and
// classifies transport failures as timeout or network errors.
func (c *Client) Do(ctx context.Context, method, rawURL string, headers http.Header, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, apperr.Validation("invalid_target", "invalid backend url: %v", err)
	}
	for name, values := range headers {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	payload, err := c.readBounded(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       payload,
	}, nil
}

func (c *Client) readBounded(body io.Reader) ([]byte, error) {
	limited := io.LimitReader(body, c.maxResponseBytes+1)
	payload, err := io.ReadAll(limited)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if int64(len(payload)) > c.maxResponseBytes {
		return nil, apperr.Server("backend response exceeds the %d byte ceiling", c.maxResponseBytes)
	}
	return payload, nil
}

func classifyTransportError(err error) *apperr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout("backend request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Timeout("backend request canceled")
	}
	return apperr.Network("backend unreachable: %v", err)
}

// StatusError maps a non-2xx backend status to a gateway error,
// extracting the backend's own error message when the body carries
// one.
func StatusError(statusCode int, body []byte) *apperr.Error {
	message := extractBackendMessage(body)
	switch {
	case statusCode == http.StatusNotFound:
		return apperr.NotFound("backend_not_found", "%s", message)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return apperr.AuthConfig("backend rejected gateway credentials: %s", message)
	case statusCode >= 500:
		return apperr.Network("backend error (%d): %s", statusCode, message)
	default:
		return apperr.Validation("backend_rejected", "%s", message)
	}
}

func extractBackendMessage(body []byte) string {
	msg := parseODataErrorMessage(body)
	if msg == "" {
		msg = "request rejected by backend"
	}
	return msg
}

func parseODataErrorMessage(body []byte) string {
	// v2: {"error":{"message":{"value":"..."}}}; v4: {"error":{"message":"..."}}
	var envelope struct {
		Error struct {
			Message any `json:"message"`
		} `json:"error"`
	}
	if len(body) == 0 || json.Unmarshal(body, &envelope) != nil {
		return ""
	}
	switch m := envelope.Error.Message.(type) {
	case string:
		return m
	case map[string]any:
		if v, ok := m["value"].(string); ok {
			return v
		}
	}
	return ""
}


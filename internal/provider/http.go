package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// maxErrorBodySize caps how much of an error response body is read to prevent memory spikes.
const maxErrorBodySize = 4096

// maxResponseSize caps a successful response body.
const maxResponseSize = 8 << 20

// HTTPCaller is the default Caller. It POSTs a JSON body built from the
// AIConfig to its endpoint and decodes the response.
type HTTPCaller struct {
	client *http.Client
}

// NewHTTPCaller creates an HTTPCaller. A nil client uses a fresh
// http.Client without a global timeout: the executor bounds each attempt.
func NewHTTPCaller(client *http.Client) *HTTPCaller {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPCaller{client: client}
}

// Compile-time interface check.
var _ Caller = (*HTTPCaller)(nil)

// Call implements Caller.
func (c *HTTPCaller) Call(ctx context.Context, cfg AIConfig, messages []LLMMessage) (any, error) {
	body, err := BuildBody(cfg, messages)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrConfig, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, mapConnectionError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, handleErrorResponse(resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, mapConnectionError(ctx, err)
	}
	return decodePayload(raw)
}

// decodePayload returns the JSON value of raw, or raw as a string when
// it is not JSON.
func decodePayload(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrEmptyResponse
	}
	var payload any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return string(trimmed), nil
	}
	return payload, nil
}

// BuildBody renders the request body for cfg. With an empty template it
// produces an OpenAI-compatible {model, messages} document.
func BuildBody(cfg AIConfig, messages []LLMMessage) ([]byte, error) {
	if messages == nil {
		messages = []LLMMessage{}
	}
	if cfg.BodyTemplate == "" {
		body := struct {
			Model    string       `json:"model,omitempty"`
			Messages []LLMMessage `json:"messages"`
		}{Model: cfg.Model, Messages: messages}
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		return data, nil
	}

	msgJSON, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}
	promptJSON, err := json.Marshal(lastUserPrompt(messages))
	if err != nil {
		return nil, fmt.Errorf("marshal prompt: %w", err)
	}
	modelJSON, err := json.Marshal(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("marshal model: %w", err)
	}

	// Quoted placeholders are replaced by the JSON value so templates
	// stay valid JSON before substitution.
	body := strings.NewReplacer(
		`"{{messages}}"`, string(msgJSON),
		`"{{prompt}}"`, string(promptJSON),
		`"{{model}}"`, string(modelJSON),
		`{{messages}}`, string(msgJSON),
		`{{prompt}}`, string(promptJSON),
		`{{model}}`, string(modelJSON),
	).Replace(cfg.BodyTemplate)

	if !json.Valid([]byte(body)) {
		return nil, fmt.Errorf("%w: body_template does not render valid JSON", ErrConfig)
	}
	return []byte(body), nil
}

// lastUserPrompt returns the content of the final user message.
func lastUserPrompt(messages []LLMMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == MessageRoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// handleErrorResponse maps HTTP error status codes to sentinel errors.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	msg := errorMessage(body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", ErrAuthentication, resp.StatusCode, msg)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: HTTP %d: %s", ErrNotFound, resp.StatusCode, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimit, msg)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d: %s", ErrTimeout, resp.StatusCode, msg)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", ErrProviderDown, resp.StatusCode, msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
}

// errorMessage extracts {"error":{"message":...}} when present.
func errorMessage(body []byte) string {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	return string(body)
}

// mapConnectionError maps network-level errors to provider sentinel errors.
// Caller cancellation passes through unchanged.
func mapConnectionError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, syscall.ECONNREFUSED), errors.As(err, &dnsErr):
		return fmt.Errorf("%w: %w", ErrConnRefused, err)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %w", ErrConnReset, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("provider request: %w", err)
}

package ollama

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

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/resilience"
)

const maxErrorBody = 2048

// StatusError is a non-2xx answer from the Ollama API. Message carries the
// API's {"error": ...} text when present, the raw body otherwise.
type StatusError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ollama %s: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("ollama %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

func (c *Client) post(ctx context.Context, operation, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Operation: operation, StatusCode: resp.StatusCode, Message: errorText(raw)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func errorText(raw []byte) string {
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
		return apiErr.Error
	}
	return strings.TrimSpace(string(raw))
}

// classify treats overload and transport errors as retryable. A missing model
// (404) is permanent but still counts against the breaker so that searches
// fall back quickly while the model is being pulled.
func classify(err error) resilience.ErrorClassification {
	var statusErr *StatusError
	var netErr net.Error
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case errors.As(err, &statusErr):
		switch statusErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		case http.StatusNotFound:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
		default:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
	case errors.As(err, &netErr):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
}

func markTemporary(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classify(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

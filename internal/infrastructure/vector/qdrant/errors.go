package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/resilience"
)

// APIError is a non-2xx answer from Qdrant. Detail is status.error from the
// response envelope, or the trimmed body when the envelope is absent.
type APIError struct {
	Operation  string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("qdrant %s: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("qdrant %s: status %d: %s", e.Operation, e.StatusCode, e.Detail)
}

func newAPIError(operation string, status int, body []byte) *APIError {
	var envelope struct {
		Status struct {
			Error string `json:"error"`
		} `json:"status"`
	}
	detail := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &envelope) == nil && envelope.Status.Error != "" {
		detail = envelope.Status.Error
	}
	return &APIError{Operation: operation, StatusCode: status, Detail: detail}
}

func isConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// classify retries overload answers and transport failures. Other 5xx count
// against the breaker without a retry; 4xx is a caller problem.
func classify(err error) resilience.ErrorClassification {
	var apiErr *APIError
	var netErr net.Error
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusBadGateway,
			apiErr.StatusCode == http.StatusServiceUnavailable,
			apiErr.StatusCode == http.StatusGatewayTimeout:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		case apiErr.StatusCode >= 500:
			return resilience.ErrorClassification{RecordFailure: true}
		default:
			return resilience.ErrorClassification{}
		}
	case errors.As(err, &netErr):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

func markTemporary(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) || !classify(err).Retryable {
		return err
	}
	return domain.WrapError(domain.ErrTemporary, operation, err)
}

package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/001Space/cartsync/pkg/errors"
)

// backendErrorBody mirrors the error envelope returned by the storefront
// backend. Older deployments return a flat {"message": ...} body instead, so
// both shapes are accepted.
type backendErrorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into the typed error taxonomy:
//
//   - 401/403 become NotAuthenticated (credential rejection is a client-class
//     failure and must never trigger local fallback),
//   - 404 carries the NotFound sentinel so callers can treat "already
//     absent" as success where that is the right semantics,
//   - other 4xx become RemoteRejected with the original status preserved,
//   - 5xx become TransientBackendFailure.
//
// The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		bodyBytes = nil
	}

	message := extractMessage(bodyBytes)
	if message == "" {
		message = fmt.Sprintf("remote store returned status %d", resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.NotAuthenticated(message)
	case resp.StatusCode == http.StatusNotFound:
		return &apperrors.AppError{
			Code:    "NOT_FOUND",
			Message: message,
			Status:  http.StatusNotFound,
			Err:     apperrors.ErrNotFound,
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return apperrors.RemoteRejected(resp.StatusCode, message)
	default:
		return apperrors.TransientBackendFailure(fmt.Errorf("status %d: %s", resp.StatusCode, message))
	}
}

// extractMessage pulls a human-readable message out of whichever error body
// shape the backend used. Returns "" when the body is empty or unparseable.
func extractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var parsed backendErrorBody
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return ""
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}

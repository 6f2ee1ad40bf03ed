package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrTransient         = errors.New("backend temporarily unavailable")
	ErrRemoteRejected    = errors.New("remote store rejected the operation")
	ErrStaleSession      = errors.New("session changed while operation was in flight")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Items   []string `json:"items,omitempty"`
	Status  int      `json:"-"`
	Err     error    `json:"-"`
}

func (e *AppError) Error() string {
	if len(e.Items) > 0 {
		return fmt.Sprintf("%s: %s: [%s]", e.Code, e.Message, strings.Join(e.Items, ", "))
	}
	if e.Err != nil && !isSentinel(e.Err) {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func isSentinel(err error) bool {
	for _, s := range []error{
		ErrNotFound, ErrInvalidArgument, ErrNotAuthenticated, ErrEmptyCart,
		ErrInsufficientStock, ErrTransient, ErrRemoteRejected, ErrStaleSession,
	} {
		if err == s {
			return true
		}
	}
	return false
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidArgument creates a 400 error for malformed input.
func InvalidArgument(message string) *AppError {
	return &AppError{
		Code:    "INVALID_ARGUMENT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidArgument,
	}
}

// NotAuthenticated creates a 401 error.
func NotAuthenticated(message string) *AppError {
	return &AppError{
		Code:    "NOT_AUTHENTICATED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrNotAuthenticated,
	}
}

// EmptyCart creates a 409 error for checkout attempts on an empty cart.
func EmptyCart() *AppError {
	return &AppError{
		Code:    "EMPTY_CART",
		Message: "cannot check out an empty cart",
		Status:  http.StatusConflict,
		Err:     ErrEmptyCart,
	}
}

// InsufficientStock creates a 409 error listing the offending product ids.
func InsufficientStock(productIDs []string) *AppError {
	return &AppError{
		Code:    "INSUFFICIENT_STOCK",
		Message: "requested quantity exceeds available stock",
		Items:   productIDs,
		Status:  http.StatusConflict,
		Err:     ErrInsufficientStock,
	}
}

// TransientBackendFailure creates a 503 error wrapping the underlying cause.
// Errors of this class are eligible for local-fallback degrade.
func TransientBackendFailure(cause error) *AppError {
	return &AppError{
		Code:    "BACKEND_UNAVAILABLE",
		Message: "remote cart store is temporarily unavailable",
		Status:  http.StatusServiceUnavailable,
		Err:     fmt.Errorf("%w: %w", ErrTransient, cause),
	}
}

// RemoteRejected creates an error preserving the remote store's 4xx status and
// message. Errors of this class are reported verbatim, never degraded.
func RemoteRejected(status int, message string) *AppError {
	return &AppError{
		Code:    "REMOTE_REJECTED",
		Message: message,
		Status:  status,
		Err:     ErrRemoteRejected,
	}
}

// StaleSession creates a 409 error for results discarded because the session
// changed while the operation was in flight.
func StaleSession() *AppError {
	return &AppError{
		Code:    "STALE_SESSION",
		Message: "session changed during the operation; result discarded",
		Status:  http.StatusConflict,
		Err:     ErrStaleSession,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// IsTransient reports whether err is a transient failure: one that should
// trigger local-fallback degrade rather than be surfaced as a hard error.
// Network errors, timeouts, and 5xx-class responses qualify; client-class
// errors (invalid input, auth, remote 4xx) do not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrStaleSession):
		return http.StatusConflict
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

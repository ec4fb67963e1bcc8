package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Category classifies a gateway failure for HTTP mapping and logging.
type Category string

const (
	CategoryAuth        Category = "auth"
	CategoryPermission  Category = "permission"
	CategoryValidation  Category = "validation"
	CategoryNotFound    Category = "not-found"
	CategoryRateLimited Category = "rate-limited"
	CategoryTimeout     Category = "timeout"
	CategoryNetwork     Category = "network"
	CategoryAuthConfig  Category = "auth-config"
	CategoryServer      Category = "server"
)

// Error is the gateway error carried through the pipeline and rendered
// as {error:{code,message,details?}} at the boundary. Messages are
// redacted before construction, never after the fact.
type Error struct {
	Category Category
	Code     string
	Message  string
	Details  any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus maps the category to a response status per the taxonomy.
func (e *Error) HTTPStatus() int {
	switch e.Category {
	case CategoryAuth:
		return http.StatusUnauthorized
	case CategoryPermission:
		return http.StatusForbidden
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryRateLimited:
		return http.StatusTooManyRequests
	case CategoryTimeout:
		return http.StatusGatewayTimeout
	case CategoryNetwork, CategoryAuthConfig:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func New(category Category, code, format string, args ...any) *Error {
	return &Error{
		Category: category,
		Code:     code,
		Message:  Redact(fmt.Sprintf(format, args...)),
	}
}

func Auth(code, format string, args ...any) *Error {
	return New(CategoryAuth, code, format, args...)
}

func Permission(code, format string, args ...any) *Error {
	return New(CategoryPermission, code, format, args...)
}

func Validation(code, format string, args ...any) *Error {
	return New(CategoryValidation, code, format, args...)
}

func NotFound(code, format string, args ...any) *Error {
	return New(CategoryNotFound, code, format, args...)
}

func RateLimited(scope string, retryAfterSeconds int) *Error {
	e := New(CategoryRateLimited, "rate_limit_exceeded", "%s rate limit exceeded", scope)
	e.Details = map[string]any{
		"scope":      scope,
		"retryAfter": retryAfterSeconds,
	}
	return e
}

func Timeout(format string, args ...any) *Error {
	return New(CategoryTimeout, "backend_timeout", format, args...)
}

func Network(format string, args ...any) *Error {
	return New(CategoryNetwork, "backend_unreachable", format, args...)
}

func AuthConfig(format string, args ...any) *Error {
	return New(CategoryAuthConfig, "auth_config_error", format, args...)
}

func Server(format string, args ...any) *Error {
	return New(CategoryServer, "internal_error", format, args...)
}

// RetryAfterSeconds returns the retryAfter detail of a rate-limited
// error, or 0 for any other error.
func (e *Error) RetryAfterSeconds() int {
	details, ok := e.Details.(map[string]any)
	if !ok {
		return 0
	}
	n, _ := details["retryAfter"].(int)
	return n
}

// FromError coerces any error into a gateway error, preserving it when
// it already is one.
func FromError(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Server("%s", err.Error())
}

package shared

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("closed")
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

func (e *APIError) ToHTTP(status int) *echo.HTTPError {
	return echo.NewHTTPError(status, e)
}

func BadRequest(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusBadRequest)
}

func NotFound(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusNotFound)
}

func Conflict(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusConflict)
}

func InternalError(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusInternalServerError)
}

func BadGateway(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusBadGateway)
}

func ServiceUnavailable(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusServiceUnavailable)
}

// FromError maps the narration error taxonomy onto an HTTP error. The
// message stays generic; the code tells local failures from remote ones.
func FromError(err error) *echo.HTTPError {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return BadRequest(validationErr.Code(), validationErr.Error())
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return InternalError("storage_error", "Failed to store request artifact")
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.Transient() {
			return ServiceUnavailable("provider_unavailable", "Narration provider is temporarily unavailable")
		}
		return BadGateway("provider_failed", "Narration provider rejected the request")
	}

	if errors.Is(err, ErrNotFound) {
		return NotFound("not_found", "Resource not found")
	}

	if errors.Is(err, ErrClosed) {
		return Conflict("session_closed", "Session is closed")
	}

	return InternalError("internal_error", "Internal server error")
}

// HTTPErrorHandler renders every error as a JSON body with an "error" field.
func HTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		httpErr := FromError(err)
		body, ok := httpErr.Message.(*APIError)
		if !ok {
			body = NewAPIError("http_error", messageOf(httpErr))
		}

		if httpErr.Code >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", httpErr.Code,
				"error", err)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(httpErr.Code)
			return
		}
		_ = c.JSON(httpErr.Code, body)
	}
}

func messageOf(httpErr *echo.HTTPError) string {
	if s, ok := httpErr.Message.(string); ok {
		return s
	}
	return http.StatusText(httpErr.Code)
}

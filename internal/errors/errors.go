// Package errors defines the playback core error taxonomy and the HTTP
// response helpers that map each kind to a status code.
package errors

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumira-media/lumira/internal/logger"
)

// Kind classifies an error for API responses and retry policy.
type Kind string

const (
	// KindNotFound means an item, session, generator or part does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindInvalidInput covers path traversal, invalid seek positions and
	// malformed seeds.
	KindInvalidInput Kind = "INVALID_INPUT"
	// KindPlanUnavailable means no combination of profiles allows playback.
	KindPlanUnavailable Kind = "PLAN_UNAVAILABLE"
	// KindEncoderFailed means the worker crashed or exited non-zero.
	KindEncoderFailed Kind = "ENCODER_FAILED"
	// KindResourceExhausted covers disk quota and worker-slot exhaustion.
	KindResourceExhausted Kind = "RESOURCE_EXHAUSTED"
	// KindTimeout means a segment or manifest wait exceeded its deadline.
	KindTimeout Kind = "TIMEOUT"
	// KindConcurrencyConflict means a session operation was aborted during
	// shutdown; safe to retry.
	KindConcurrencyConflict Kind = "CONCURRENCY_CONFLICT"
	// KindInternal is everything else.
	KindInternal Kind = "INTERNAL_ERROR"
)

// Error is a structured error with HTTP context. No stack traces are exposed;
// log correlation happens via the context map (session id, generator id).
type Error struct {
	Kind    Kind                   `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error kind to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound, KindTimeout:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindPlanUnavailable:
		return http.StatusUnprocessableEntity
	case KindResourceExhausted:
		return http.StatusServiceUnavailable
	case KindConcurrencyConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WithContext attaches a correlation value and returns the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Constructors

func NotFound(resource, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: resource + " not found",
		Context: map[string]interface{}{"resource": resource, "id": id},
	}
}

func InvalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

func PlanUnavailable(message string, cause error) *Error {
	return &Error{Kind: KindPlanUnavailable, Message: message, Cause: cause}
}

func EncoderFailed(message string, cause error) *Error {
	return &Error{Kind: KindEncoderFailed, Message: message, Cause: cause}
}

func ResourceExhausted(message string) *Error {
	return &Error{Kind: KindResourceExhausted, Message: message}
}

func Timeout(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}

func ConcurrencyConflict(message string) *Error {
	return &Error{Kind: KindConcurrencyConflict, Message: message}
}

func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Respond writes err as a standardized JSON response. Unknown error types are
// wrapped as internal errors so no raw messages leak.
func Respond(c *gin.Context, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = Internal("unexpected error", err)
	}

	response := gin.H{
		"error": e.Message,
		"code":  e.Kind,
	}
	if len(e.Context) > 0 {
		response["details"] = e.Context
	}

	logger.Error("HTTP error response",
		"status", e.HTTPStatus(),
		"code", e.Kind,
		"message", e.Message,
		"path", c.Request.URL.Path,
		"method", c.Request.Method)

	c.JSON(e.HTTPStatus(), response)
}

// RespondValidation is a shortcut for request binding failures.
func RespondValidation(c *gin.Context, message string, field string) {
	Respond(c, InvalidInput(message).WithContext("field", field))
}

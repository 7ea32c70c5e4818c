package common

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
	ErrTimeout      = errors.New("deadline exceeded")
	ErrCancelled    = errors.New("job cancelled")
	ErrDuplicateJob = errors.New("job id already exists")
	ErrQueueClosed  = errors.New("job queue is shutting down")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ServiceError is a failure reported by (or while calling) a backend service.
// Transient errors may succeed on retry; permanent ones will not.
type ServiceError struct {
	Service    string
	Transient  bool
	StatusCode int
	Cause      error
}

func (e *ServiceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s service error (%s, status %d): %v", e.Service, kind, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("%s service error (%s): %v", e.Service, kind, e.Cause)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

func NewTransientError(service string, cause error) *ServiceError {
	return &ServiceError{Service: service, Transient: true, Cause: cause}
}

func NewPermanentError(service string, cause error) *ServiceError {
	return &ServiceError{Service: service, Transient: false, Cause: cause}
}

// IsTransient reports whether err is worth retrying. Network timeouts count as
// transient even when they were not wrapped in a ServiceError.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Transient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// IsTimeout reports whether err stems from a context deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout)
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InternalErrorf(format string, args ...interface{}) error {
	return InternalError(fmt.Sprintf(format, args...))
}

package common

import (
	"errors"
	"fmt"
	"net/http"
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
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrValidation     = errors.New("validation failed")
	ErrTooLarge       = errors.New("payload too large")
	ErrInternal       = errors.New("internal error")
	ErrStorage        = errors.New("storage unavailable")
	ErrImageDecode    = errors.New("image decode failed")
	ErrClassification = errors.New("classification failed")
	ErrNotReady       = errors.New("batch not ready")
)

// Error codes
const (
	CodeConfig         = "CONFIG_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeInvalidInput   = "INVALID_INPUT"
	CodeStorage        = "STORAGE_ERROR"
	CodeImageDecode    = "IMAGE_DECODE_ERROR"
	CodeClassification = "CLASSIFICATION_ERROR"
	CodeNotReady       = "NOT_READY"
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ImageDecodeError marks a malformed or unencodable image. It is file-scoped.
func ImageDecodeError(message string, cause error) error {
	return NewAppError(CodeImageDecode, message, joinCause(ErrImageDecode, cause))
}

// ClassificationError marks a classifier failure. The file degrades to zero entities.
func ClassificationError(message string, cause error) error {
	return NewAppError(CodeClassification, message, joinCause(ErrClassification, cause))
}

// StorageError marks an unavailable blob or record store.
func StorageError(message string, cause error) error {
	return NewAppError(CodeStorage, message, joinCause(ErrStorage, cause))
}

// NotFoundError marks an unknown batch, file or blob.
func NotFoundError(message string) error {
	return NewAppError(CodeNotFound, message, ErrNotFound)
}

func NotFoundErrorf(format string, args ...interface{}) error {
	return NotFoundError(fmt.Sprintf(format, args...))
}

func InvalidArgumentError(message string) error {
	return NewAppError(CodeInvalidInput, message, ErrInvalidInput)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

func NotReadyError(message string) error {
	return NewAppError(CodeNotReady, message, ErrNotReady)
}

func joinCause(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// HTTPStatus maps an error onto the status code returned to clients.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to show a client for err.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && HTTPStatus(err) < http.StatusInternalServerError {
		return appErr.Message
	}
	switch HTTPStatus(err) {
	case http.StatusServiceUnavailable:
		return "storage temporarily unavailable"
	case http.StatusInternalServerError:
		return "internal error"
	}
	return err.Error()
}

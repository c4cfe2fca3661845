package dispense

import (
	"fmt"
	"net/http"

	"keyhub/internal/models"
)

// ServiceError represents errors from the dispense service with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Error constructors, one per class of failure

func NewValidationError(code, message string, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func NewPolicyDeniedError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeAlreadyClaimed,
		Message:    message,
		StatusCode: http.StatusForbidden,
		Err:        err,
	}
}

func NewExhaustedError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodePoolExhausted,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Err:        err,
	}
}

// NewInternalError hides err from the client; Message is all they see.
func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

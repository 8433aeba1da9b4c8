package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by every handler.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeInactiveReference    = "INACTIVE_REFERENCE"
	CodeReferentialIntegrity = "REFERENTIAL_INTEGRITY"
	CodeConflict             = "CONFLICT"
	CodeBillNumberExhausted  = "BILL_NUMBER_EXHAUSTED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithDetails attaches structured details to the error and returns it.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	var target *AppError
	return errors.As(err, &target) && target.Code == code
}

// ValidationError reports client input that was rejected before any write.
func ValidationError(format string, args ...any) *AppError {
	return NewAppError(CodeValidation, fmt.Sprintf(format, args...), http.StatusBadRequest, nil)
}

// NotFoundError reports an unknown entity, naming the id that failed to resolve.
func NotFoundError(kind, id string) *AppError {
	return NewAppError(CodeNotFound, fmt.Sprintf("%s %s not found", kind, id), http.StatusNotFound, nil).
		WithDetails(map[string]string{"resource": kind, "id": id})
}

// InactiveReferenceError reports a reference to an entity that exists but is disabled.
func InactiveReferenceError(kind, id string) *AppError {
	return NewAppError(CodeInactiveReference, fmt.Sprintf("%s %s is inactive", kind, id), http.StatusUnprocessableEntity, nil).
		WithDetails(map[string]string{"resource": kind, "id": id})
}

// ReferentialIntegrityError reports a delete or deactivation blocked by existing references.
func ReferentialIntegrityError(kind, id, referencedBy string) *AppError {
	return NewAppError(CodeReferentialIntegrity, fmt.Sprintf("%s %s is referenced by %s", kind, id, referencedBy), http.StatusConflict, nil).
		WithDetails(map[string]string{"resource": kind, "id": id, "referenced_by": referencedBy})
}

// ConflictError reports a uniqueness violation on a client-supplied identity.
func ConflictError(message string) *AppError {
	return NewAppError(CodeConflict, message, http.StatusConflict, nil)
}

// UnauthorizedError reports a missing or invalid credential.
func UnauthorizedError(message string) *AppError {
	return NewAppError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

// ForbiddenError reports an authenticated caller lacking the required role.
func ForbiddenError(message string) *AppError {
	return NewAppError(CodeForbidden, message, http.StatusForbidden, nil)
}

// RateLimitedError reports a caller over its request budget.
func RateLimitedError(message string) *AppError {
	return NewAppError(CodeRateLimited, message, http.StatusTooManyRequests, nil)
}

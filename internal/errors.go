package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized  ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden     ErrorType = "FORBIDDEN"
	ErrorTypeConflict      ErrorType = "CONFLICT"
	ErrorTypeUnprocessable ErrorType = "UNPROCESSABLE"
	ErrorTypeLimit         ErrorType = "LIMIT_EXCEEDED"
	ErrorTypeInternal      ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal      ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidDate      ErrorCode = "INVALID_DATE"
	ErrCodeAmountTooLow     ErrorCode = "AMOUNT_TOO_LOW"
	ErrCodeAmountTooHigh    ErrorCode = "AMOUNT_TOO_HIGH"

	ErrCodeRequestNotFound          ErrorCode = "REQUEST_NOT_FOUND"
	ErrCodeChainResolutionFailed    ErrorCode = "CHAIN_RESOLUTION_FAILED"
	ErrCodeMissingRequiredDocuments ErrorCode = "MISSING_REQUIRED_DOCUMENTS"
	ErrCodeMonthlyLimitExceeded     ErrorCode = "MONTHLY_LIMIT_EXCEEDED"
	ErrCodeAmountCeilingExceeded    ErrorCode = "AMOUNT_CEILING_EXCEEDED"
	ErrCodeNotActiveApprover        ErrorCode = "NOT_ACTIVE_APPROVER"
	ErrCodeInvalidStateTransition   ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeExceedsRemainingBalance  ErrorCode = "EXCEEDS_REMAINING_BALANCE"
	ErrCodeConcurrentModification   ErrorCode = "CONCURRENT_MODIFICATION"
	ErrCodeDuplicateSubmission      ErrorCode = "DUPLICATE_SUBMISSION"
	ErrCodeNotRequestOwner          ErrorCode = "NOT_REQUEST_OWNER"
	ErrCodeInsufficientRole         ErrorCode = "INSUFFICIENT_ROLE"

	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {

			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on error code so a freshly built error compares equal to the
// package sentinel of the same kind.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy carrying cause; sentinels are never mutated.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithDetails returns a copy carrying details.
func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithMessage returns a copy with a more specific message.
func (e *AppError) WithMessage(message string) *AppError {
	cp := *e
	cp.Message = message
	return &cp
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewUnprocessableError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnprocessable,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func NewLimitError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeLimit,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
}

var (
	ErrRequestNotFound          = NewNotFoundError("Request not found", ErrCodeRequestNotFound)
	ErrChainResolution          = NewUnprocessableError("approval chain could not be resolved for department", ErrCodeChainResolutionFailed)
	ErrMissingRequiredDocuments = NewValidationError("at least one supporting document is required", ErrCodeMissingRequiredDocuments)
	ErrMonthlyLimitExceeded     = NewLimitError("monthly reimbursement limit reached", ErrCodeMonthlyLimitExceeded)
	ErrAmountCeilingExceeded    = NewValidationError("amount exceeds the reimbursement ceiling", ErrCodeAmountCeilingExceeded)
	ErrNotActiveApprover        = NewForbiddenError("you are not the approver of the current step", ErrCodeNotActiveApprover)
	ErrInvalidStateTransition   = NewConflictError("request cannot accept this action in its current status", ErrCodeInvalidStateTransition)
	ErrExceedsRemainingBalance  = NewValidationError("amount exceeds the remaining balance", ErrCodeExceedsRemainingBalance)
	ErrInvalidAmount            = NewValidationError("amount must be greater than zero", ErrCodeInvalidAmount)
	ErrConcurrentModification   = NewConflictError("request was modified concurrently, reload and retry", ErrCodeConcurrentModification)
	ErrDuplicateSubmission      = NewConflictError("this submission was already received", ErrCodeDuplicateSubmission)
	ErrNotRequestOwner          = NewForbiddenError("only the requesting employee can perform this action", ErrCodeNotRequestOwner)
	ErrInsufficientRole         = NewForbiddenError("your role does not allow this action", ErrCodeInsufficientRole)

	ErrInvalidToken = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}

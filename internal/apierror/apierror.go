package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrValidation     ErrorCode = "VALIDATION_ERROR"
	ErrAdapter        ErrorCode = "ADAPTER_ERROR"
	ErrExhaustedRetry ErrorCode = "EXHAUSTED_RETRY"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

// Stable reason strings carried on conflict rejections so callers can branch
// without parsing messages.
const (
	ReasonBidTooLow         = "BID_TOO_LOW"
	ReasonListingNotActive  = "LISTING_NOT_ACTIVE"
	ReasonListingEnded      = "LISTING_ENDED"
	ReasonSelfDealing       = "SELF_DEALING"
	ReasonAlreadySold       = "ALREADY_SOLD"
	ReasonDeadlinePassed    = "DEADLINE_PASSED"
	ReasonAlreadyDeposited  = "ALREADY_DEPOSITED"
	ReasonPaymentUnverified = "PAYMENT_UNVERIFIED"
	ReasonBadStatus         = "BAD_STATUS"
	ReasonPercentageCap     = "PERCENTAGE_CAP_EXCEEDED"
	ReasonDisputed          = "DISPUTE_OPEN"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Reason  string      `json:"reason,omitempty"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if code == ErrInternalServer || code == ErrAdapter {
		logrus.Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewConflict builds the typed rejection returned when a precondition fails
// inside a serializable transaction. The reason is one of the Reason*
// constants.
func NewConflict(reason, message string) APIError {
	return APIError{
		Code:    ErrConflict,
		Reason:  reason,
		Message: message,
	}
}

// IsConflict reports whether err is a typed conflict, optionally matching a
// specific reason when one is given.
func IsConflict(err error, reason string) bool {
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Code != ErrConflict {
		return false
	}
	return reason == "" || apiErr.Reason == reason
}

// IsRetryableSerialization reports whether err is a Postgres serialization
// failure (SQLSTATE 40001), which a serializable transaction wrapper should
// retry rather than surface.
func IsRetryableSerialization(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001"
	}
	return false
}

// IsUniqueViolation reports whether err is a Postgres unique violation
// (SQLSTATE 23505). The purchase path treats it as the listing already
// having an active transaction.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict:
			return http.StatusConflict
		case ErrValidation:
			return http.StatusBadRequest
		case ErrAdapter, ErrExhaustedRetry:
			return http.StatusBadGateway
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

package ingest

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType tags a failure with a stable, client-visible classification.
type ErrorType string

// Error taxonomy surfaced in responses and persisted failure documents.
const (
	ErrValidation             ErrorType = "ValidationError"
	ErrUnsupportedContentType ErrorType = "UnsupportedContentType"
	ErrFetchTimeout           ErrorType = "FetchTimeout"
	ErrFetch                  ErrorType = "FetchError"
	ErrUpstreamHTTP           ErrorType = "UpstreamHttpError"
	ErrResponseTooLarge       ErrorType = "ResponseTooLarge"
	ErrSupremeLanding         ErrorType = "SupremeLandingError"
	ErrSupremeSearch          ErrorType = "SupremeSearchError"
	ErrSupremeEmptyResult     ErrorType = "SupremeEmptyResult"
	ErrForcedFailure          ErrorType = "ForcedFailure"
	ErrMisconfiguration       ErrorType = "MisconfigurationError"
	ErrStorageQuery           ErrorType = "StorageQueryError"
	ErrStorageWrite           ErrorType = "StorageWriteError"
	ErrUnclassified           ErrorType = "Error"
)

// Error is a classified failure carrying the HTTP status it maps to.
type Error struct {
	Status  int
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(status int, errType ErrorType, message string) *Error {
	return &Error{Status: status, Type: errType, Message: message}
}

// WrapError builds a classified error that keeps the underlying cause for logs.
func WrapError(status int, errType ErrorType, message string, cause error) *Error {
	return &Error{Status: status, Type: errType, Message: message, Err: cause}
}

// Validation returns a 400 ValidationError.
func Validation(message string) *Error {
	return NewError(http.StatusBadRequest, ErrValidation, message)
}

// Classify reduces any error to the status, type and message shown to callers.
// Errors outside the taxonomy never leak their text.
func Classify(err error) (int, ErrorType, string) {
	var ie *Error
	if errors.As(err, &ie) {
		status := ie.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		errType := ie.Type
		if errType == "" {
			errType = ErrUnclassified
		}
		message := ie.Message
		if message == "" {
			message = "Unexpected error"
		}
		return status, errType, message
	}
	return http.StatusInternalServerError, ErrUnclassified, "Unexpected error"
}

// TypeOf returns only the classification tag of err.
func TypeOf(err error) ErrorType {
	if err == nil {
		return "UnknownError"
	}
	_, errType, _ := Classify(err)
	return errType
}

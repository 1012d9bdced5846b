package apierror

import (
	"fmt"
	"time"
)

type APIError struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Details    string        `json:"details,omitempty"`
	HTTPStatus int           `json:"-"`
	RetryAfter time.Duration `json:"-"`

	parent *APIError
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}

	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the error a copy was derived from, so errors.Is still
// matches package-level sentinels after WithDetails or WithRetryAfter.
func (e *APIError) Unwrap() error {
	if e == nil || e.parent == nil {
		return nil
	}

	return e.parent
}

func (e *APIError) WithDetails(details string) *APIError {
	derived := *e
	derived.Details = details
	derived.parent = e
	return &derived
}

func (e *APIError) WithRetryAfter(d time.Duration) *APIError {
	derived := *e
	derived.RetryAfter = d
	derived.parent = e
	return &derived
}

func New(code string, message string, details string, status int) *APIError {
	return &APIError{Code: code, Message: message, Details: details, HTTPStatus: status}
}

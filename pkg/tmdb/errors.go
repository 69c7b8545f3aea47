package tmdb

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode indicates a response body that doesn't match the expected schema.
	ErrDecode = errors.New("unexpected catalog response")
	// ErrResponseTooLarge indicates a response body beyond the accepted size.
	ErrResponseTooLarge = errors.New("response too large")
)

// StatusError is returned for non-2xx catalog responses.
type StatusError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("invalid status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("invalid status code: %d: %s", e.StatusCode, e.Message)
}

// IsNotFound checks if the error indicates a not found response
func (e *StatusError) IsNotFound() bool {
	return e.StatusCode == 404
}

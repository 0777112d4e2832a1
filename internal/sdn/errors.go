package sdn

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrControllerRejected matches every *RejectedError.
	ErrControllerRejected = errors.New("controller rejected request")
	// ErrControllerUnavailable means the controller could not be reached at all.
	ErrControllerUnavailable = errors.New("controller unavailable")
)

// RejectedError carries the status and body of a non-success controller response.
type RejectedError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrControllerRejected
}

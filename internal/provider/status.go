package provider

import (
	"errors"
	"fmt"
)

// Status is the outcome of a provider call.
type Status int

const (
	StatusSuccess Status = iota
	StatusGenericError
	StatusNotSupported
	StatusNotPermitted
	StatusInvalidArgument
	StatusInvalidHandle
	StatusBadState
	StatusInsufficientEntropy
	StatusInvalidSignature
	StatusInvalidPadding
)

var statusNames = map[Status]string{
	StatusSuccess:             "success",
	StatusGenericError:        "generic error",
	StatusNotSupported:        "not supported",
	StatusNotPermitted:        "not permitted",
	StatusInvalidArgument:     "invalid argument",
	StatusInvalidHandle:       "invalid handle",
	StatusBadState:            "bad state",
	StatusInsufficientEntropy: "insufficient entropy",
	StatusInvalidSignature:    "invalid signature",
	StatusInvalidPadding:      "invalid padding",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status %d", int(s))
}

// StatusError reports a non-success Status from the named operation.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

// Is matches any StatusError with the same Status, so callers can write
// errors.Is(err, provider.ErrBadState) regardless of the failing operation.
func (e *StatusError) Is(target error) bool {
	var other *StatusError
	if errors.As(target, &other) {
		return other.Status == e.Status && (other.Op == "" || other.Op == e.Op)
	}
	return false
}

func statusError(op string, status Status) error {
	return &StatusError{Op: op, Status: status}
}

var (
	ErrNotSupported     = &StatusError{Status: StatusNotSupported}
	ErrNotPermitted     = &StatusError{Status: StatusNotPermitted}
	ErrInvalidArgument  = &StatusError{Status: StatusInvalidArgument}
	ErrInvalidHandle    = &StatusError{Status: StatusInvalidHandle}
	ErrBadState         = &StatusError{Status: StatusBadState}
	ErrInvalidSignature = &StatusError{Status: StatusInvalidSignature}
	ErrInvalidPadding   = &StatusError{Status: StatusInvalidPadding}
)

// StatusOf extracts the Status carried by err. A nil error is StatusSuccess; errors that did not
// originate from a Provider map to StatusGenericError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return StatusGenericError
}

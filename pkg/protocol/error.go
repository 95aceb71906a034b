package protocol

import (
	"errors"
	"fmt"
)

// Error exposes methods useful for categorizing link errors.
type Error interface {
	error

	// Temporary returns true if the Error is the result of a transient condition, such as a busy
	// transmitter. The step that triggered a temporary error should be retried on the next tick.
	Temporary() bool
}

var (
	// ErrNotWritable indicates the transport could not accept a byte. The frame is not abandoned;
	// the caller resumes from the same position on the next tick.
	ErrNotWritable = NewError("transport not writable", true)
	// ErrPayloadTooLong indicates a payload does not fit in a frame whose length is carried in a
	// single byte.
	ErrPayloadTooLong = NewError("payload exceeds maximum frame length", false)
	// ErrUnexpectedLength indicates the caller asked for a frame length the protocol never uses.
	ErrUnexpectedLength = NewError("unexpected frame length", false)
)

type LinkError struct {
	Err               error
	PossibleTemporary bool
}

func NewError(message string, temporary bool) error {
	return &LinkError{Err: errors.New(message), PossibleTemporary: temporary}
}

// Wrap annotates err as a link error.
func Wrap(err error, temporary bool) error {
	if err == nil {
		return nil
	}
	return &LinkError{Err: err, PossibleTemporary: temporary}
}

func (e *LinkError) Error() string {
	return e.Err.Error()
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func (e *LinkError) Temporary() bool {
	return e.PossibleTemporary
}

// Temporary returns true if err indicates a possibly transient condition that does not require
// user action to resolve.
func Temporary(err error) bool {
	var linkErr Error
	if errors.As(err, &linkErr) {
		return linkErr.Temporary()
	}
	return false
}

// ShouldRetry returns true if the step that triggered err should be repeated.
func ShouldRetry(err error) bool {
	return err != nil && Temporary(err)
}

// LengthError reports a received length field the receiver cannot accept.
type LengthError struct {
	Length int
	Limit  int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("frame length %d exceeds limit %d", e.Length, e.Limit)
}

func (e *LengthError) Temporary() bool {
	return false
}

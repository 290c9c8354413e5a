package model

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrCountOutOfRange = errors.New("photo count out of range")
	ErrDuplicateInput  = errors.New("duplicate photo")
	ErrUnreadableInput = errors.New("unreadable photo")
	ErrInvalidOptions  = errors.New("invalid options")

	ErrDecode    = errors.New("image decode failed")
	ErrCancelled = errors.New("compile cancelled")

	ErrFrameSizeMismatch = errors.New("frame size mismatch")
	ErrEncodeIO          = errors.New("encode i/o failure")

	ErrBusy            = errors.New("compiler busy")
	ErrDestinationBusy = errors.New("destination busy")
)

// ValidationError means the selection or options must be fixed by the user.
type ValidationError struct {
	Kind  error
	Index int // Offending photo position, -1 when not tied to a photo
	Ref   string
	Err   error
}

func (e *ValidationError) Error() string {
	return format("validation", e.Kind, e.Index, e.Ref, e.Err)
}

func (e *ValidationError) Unwrap() []error { return unwrap(e.Kind, e.Err) }

// CompositionError is a failure while producing frames.
type CompositionError struct {
	Kind  error
	Index int
	Ref   string
	Err   error
}

func (e *CompositionError) Error() string {
	return format("composition", e.Kind, e.Index, e.Ref, e.Err)
}

func (e *CompositionError) Unwrap() []error { return unwrap(e.Kind, e.Err) }

// EncodeError is a failure while writing the output container.
type EncodeError struct {
	Kind  error
	Frame int
	Path  string
	Err   error
}

func (e *EncodeError) Error() string {
	return format("encode", e.Kind, e.Frame, e.Path, e.Err)
}

func (e *EncodeError) Unwrap() []error { return unwrap(e.Kind, e.Err) }

// OrchestrationError is returned synchronously by the compiler before a job starts,
// including a cancellation that lands while the selection is still being probed.
type OrchestrationError struct {
	Kind error
	Path string
	Err  error
}

func (e *OrchestrationError) Error() string {
	return format("compiler", e.Kind, -1, e.Path, e.Err)
}

func (e *OrchestrationError) Unwrap() []error { return unwrap(e.Kind, e.Err) }

// IsSelectionError reports whether err asks the user to change the photo selection
// or options, as opposed to retrying the processing.
func IsSelectionError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsCancelled reports whether err stems from a cancellation request.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

func format(scope string, kind error, index int, ref string, err error) string {
	msg := scope
	if kind != nil {
		msg += ": " + kind.Error()
	}
	if index >= 0 {
		msg += fmt.Sprintf(" (#%d)", index)
	}
	if ref != "" {
		msg += fmt.Sprintf(" %q", ref)
	}
	if err != nil {
		msg += ": " + err.Error()
	}
	return msg
}

func unwrap(kind, err error) []error {
	out := make([]error, 0, 2)
	if kind != nil {
		out = append(out, kind)
	}
	if err != nil {
		out = append(out, err)
	}
	return out
}

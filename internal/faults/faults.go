// Package faults carries the error categories the pipeline dispatches on.
// Policy decisions (retry, skip, abort) are made on the category, never by
// inspecting error strings.
package faults

import (
	"errors"
	"fmt"
)

// Category classifies a failure for pipeline policy.
type Category int

const (
	// Transient covers network timeouts, 5xx responses and unexpected EOF.
	// Retried at the lowest competent layer; partial artefacts are preserved.
	Transient Category = iota
	// Catalog covers document-database unavailability and auth failures.
	// The affected operation fails; the run continues elsewhere.
	Catalog
	// CameraControl covers a camera refusing control or a recording arm
	// failure. Aborts the affected session only.
	CameraControl
	// Incoherent covers unusable input: UNK angles, games outside the
	// recording window, missing timestamps. Skipped and counted, not failed.
	Incoherent
	// Corrupted covers source files whose container cannot be parsed
	// (typically a truncated chapter after power loss).
	Corrupted
	// Fatal covers crashes of the orchestrator itself.
	Fatal
)

func (c Category) String() string {
	switch c {
	case Transient:
		return "transient"
	case Catalog:
		return "catalog"
	case CameraControl:
		return "camera_control"
	case Incoherent:
		return "incoherent"
	case Corrupted:
		return "corrupted"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a categorised error.
type Error struct {
	Cat Category
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Cat, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a category. A nil err returns nil.
func New(cat Category, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Cat: cat, Err: err}
}

// Newf builds a categorised error from a format string.
func Newf(cat Category, format string, args ...any) error {
	return &Error{Cat: cat, Err: fmt.Errorf(format, args...)}
}

// CategoryOf returns the category of err. Uncategorised errors are Transient:
// the conservative default for I/O-heavy code is to treat unknowns as
// retryable rather than fatal.
func CategoryOf(err error) Category {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Cat
	}
	return Transient
}

// Is reports whether err carries the given category.
func Is(err error, cat Category) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Cat == cat
	}
	return false
}

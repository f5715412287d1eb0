package docengine

import (
	"errors"
	"fmt"
)

// Kind classifies the errors the engine distinguishes.
type Kind int

const (
	// KindInvalidInput covers malformed documents, filters, updates, or
	// index options.
	KindInvalidInput Kind = iota
	// KindDuplicateKey covers primary-key or unique-index violations.
	KindDuplicateKey
	// KindConcurrentModification covers atomic-batch version-check failures.
	KindConcurrentModification
	// KindNotFound is never returned by updateOne/deleteOne, which report a
	// zero match count instead; it exists for operations where "no such
	// thing" is the error itself (e.g. dropIndex on an unknown name).
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindDuplicateKey:
		return "DuplicateKey"
	case KindConcurrentModification:
		return "ConcurrentModification"
	case KindNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error is the categorized error type every engine operation raises.
// Field and Index are optional, operation-specific metadata.
type Error struct {
	Kind    Kind
	Message string
	Field   string // set for DuplicateKey: the offending field name
	Index   int    // not set by current operations; multi-document write errors carry the input index on WriteError
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %q)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func newDuplicateKeyError(field string, format string, args ...any) *Error {
	return &Error{Kind: KindDuplicateKey, Message: fmt.Sprintf(format, args...), Field: field}
}

// Is supports errors.Is(err, KindX) style checks via a sentinel wrapper.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// WriteError is one entry in a multi-document operation's write-errors
// list.
type WriteError struct {
	Index   int
	Kind    Kind
	Message string
}

func (w WriteError) Error() string {
	return fmt.Sprintf("index %d: %s: %s", w.Index, w.Kind, w.Message)
}

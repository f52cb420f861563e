// Package mxerr implements the error taxonomy from the error-handling
// design: a small set of typed Kinds that every surfaced error is tagged
// with, so callers can decide what's fatal-to-the-term versus
// fatal-to-the-process without string-matching messages.
package mxerr

import "fmt"

// Kind classifies an error by where it sits in the propagation hierarchy.
type Kind string

const (
	// Config marks a malformed configuration file; fatal at startup.
	Config Kind = "config"
	// PluginResolution marks a plugin that threw while resolving a term;
	// surfaced per-term, non-fatal to the batch.
	PluginResolution Kind = "plugin_resolution"
	// CacheCorruption marks a cache file that exists but won't parse;
	// fatal to the term.
	CacheCorruption Kind = "cache_corruption"
	// Network marks a non-2xx response, transport failure, bad redirect,
	// or anti-bot inner status; surfaced per-request, non-fatal to the
	// batch.
	Network Kind = "network"
	// LazyResolution marks a lazy-link selector that matched nothing or
	// an attribute that was missing; fails the page.
	LazyResolution Kind = "lazy_resolution"
	// Filesystem marks a create/rename/write failure; fails the book.
	Filesystem Kind = "filesystem"
	// Cancelled marks a task that observed context cancellation.
	Cancelled Kind = "cancelled"
	// Panic marks a task that is re-raising a recovered panic; the
	// caller should treat this like an unrecovered panic, not swallow it.
	Panic Kind = "panic"
	// Unknown marks a task-join outcome that isn't any of the above.
	Unknown Kind = "unknown"
	// Bug marks a path the taxonomy says must never be reached at
	// runtime (e.g. an unimplemented plugin hook actually being called).
	Bug Kind = "bug"
)

// Error is a typed, kind-tagged error. It wraps an optional underlying
// cause so %+v (via github.com/pkg/errors) still shows a useful stack.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// As implements errors.As support for *Error targets without requiring
// callers to compare Cause.
func (e *Error) As(target interface{}) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	te.Kind = e.Kind
	te.Message = e.Message
	te.Cause = e.Cause
	return true
}

// Is treats two *Error values as equal when their Kind and Message match,
// independent of Cause — mirrors errcodes.Error's comparison-by-fields
// idiom so callers can use errors.Is with a sentinel built from New.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.Kind == e.Kind && te.Message == e.Message
}

// New builds an *Error with no underlying cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message and no underlying cause.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it as Cause.
func Wrap(kind Kind, cause error, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrapf attaches a Kind to an existing error with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and Unknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return Unknown
}

// as is a tiny local errors.As to avoid importing the standard errors
// package purely for this one call (github.com/pkg/errors re-exports As).
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

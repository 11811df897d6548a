// Package kernelerr defines the kernel's error kinds (spec §7) as a single
// typed error carrying a discriminating Kind, so callers can branch with
// errors.Is against the exported sentinel Kind values, following the
// teacher's sentinel-error convention (internal/tools/errors.go) rather
// than per-kind error types.
package kernelerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the error taxonomy named throughout spec §7. Kind
// implements error so a bare Kind value doubles as an errors.Is sentinel:
// errors.Is(err, kernelerr.NotFound).
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	ConfigInvalid      Kind = "ConfigInvalid"
	SecurityViolation  Kind = "SecurityViolation"
	NotFound           Kind = "NotFound"
	CompileError       Kind = "CompileError"
	LintViolation      Kind = "LintViolation"
	Timeout            Kind = "Timeout"
	MemoryLimit        Kind = "MemoryLimit"
	GuestThrew         Kind = "GuestThrew"
	BridgeDenied       Kind = "BridgeDenied"
	PatchNotFound      Kind = "PatchNotFound"
	PersistConflict    Kind = "PersistConflict"
	PersistError       Kind = "PersistError"
	InternalSandboxErr Kind = "InternalSandboxError"
)

// Error is the kernel's single error type. Kind is compared with errors.Is
// against a Kind value wrapped via New, e.g. errors.Is(err, kernelerr.NotFound).
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is lets errors.Is(err, someKind) work by comparing against a bare Kind
// sentinel, e.g. errors.Is(err, kernelerr.NotFound).
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind, preserving err for errors.Unwrap.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// OfKind reports whether err (or anything it wraps) is a *Error of kind k.
func OfKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every business failure returned by the core matches exactly one of these
// through errors.Is.
var (
	// ErrUnauthenticated indicates the request carried no valid principal.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates an authorization check denied the action.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates a legitimate business state prevents the action.
	ErrConflict = errors.New("conflict")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates structurally invalid input.
	ErrValidation = errors.New("validation failed")
)

// Error is a classified business error. Kind is one of the sentinels above; Code narrows
// it (the conflict kind, or the authorization axis that failed).
type Error struct {
	Kind    error
	Code    string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Code != "":
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Code != "":
		return fmt.Sprintf("%s (%s)", e.Kind, e.Code)
	}
	return e.Kind.Error()
}

// Unwrap exposes the kind sentinel.
func (e *Error) Unwrap() error { return e.Kind }

// Is matches another *Error of the same kind; a non-empty target code must match too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Unauthenticated builds an authentication failure.
func Unauthenticated(code, message string) error {
	return &Error{Kind: ErrUnauthenticated, Code: code, Message: message}
}

// Forbidden builds a forbidden error naming the failed axis.
func Forbidden(axis, message string) error {
	return &Error{Kind: ErrForbidden, Code: axis, Message: message}
}

// Conflict builds a conflict error of the given kind.
func Conflict(kind, message string) error {
	return &Error{Kind: ErrConflict, Code: kind, Message: message}
}

// NotFound builds a not-found error for a resource.
func NotFound(resource string, id any) error {
	return &Error{Kind: ErrNotFound, Code: resource, Message: fmt.Sprintf("%s %v not found", resource, id)}
}

// Validation builds a validation error.
func Validation(code, message string) error {
	return &Error{Kind: ErrValidation, Code: code, Message: message}
}

// CodeOf returns the code of the first classified error in the chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

package core

import (
	"errors"
	"strings"
)

// Error kinds. Every error surfaced to a client wraps exactly one of these.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// DetailError carries a client-facing message for one of the error kinds.
type DetailError struct {
	Kind   error
	Detail string
}

func (e *DetailError) Error() string {
	return e.Kind.Error() + ": " + e.Detail
}

func (e *DetailError) Unwrap() error {
	return e.Kind
}

func Conflict(detail string) error     { return &DetailError{Kind: ErrConflict, Detail: detail} }
func NotFound(detail string) error     { return &DetailError{Kind: ErrNotFound, Detail: detail} }
func Unauthorized(detail string) error { return &DetailError{Kind: ErrUnauthorized, Detail: detail} }

// Invalid reports a request that is well formed but cannot be served,
// such as an unknown list period.
func Invalid(detail string) error { return &DetailError{Kind: ErrValidation, Detail: detail} }

// Violation describes one rejected input field.
type Violation struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func BodyViolation(field, msg, typ string) Violation {
	return Violation{Loc: []string{"body", field}, Msg: msg, Type: typ}
}

// ValidationError lists every field-level problem of a request.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, strings.Join(v.Loc, ".")+": "+v.Msg)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Detail returns the client-facing message of err, or fallback when err
// carries none.
func Detail(err error, fallback string) string {
	var de *DetailError
	if errors.As(err, &de) {
		return de.Detail
	}
	return fallback
}

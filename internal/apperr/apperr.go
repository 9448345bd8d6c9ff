// Package apperr defines the error kinds shared by the documentation
// pipeline and the mapping the HTTP layer applies to them.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindFetch     Kind = "fetch"
	KindExtract   Kind = "extract"
	KindLLM       Kind = "llm"
	KindAssemble  Kind = "assemble"
	KindStore     Kind = "store"
	KindNotFound  Kind = "not_found"
	KindCancelled Kind = "cancelled"
	KindInvalid   Kind = "invalid"
)

// ExcerptLimit bounds how much subprocess or HTTP output an error carries.
const ExcerptLimit = 512

// Error is the typed failure every component returns at its boundary.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// Output holds captured subprocess output or an HTTP body excerpt.
	Output  string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Timeout {
		b.WriteString(" (timeout)")
	}
	if e.Err != nil {
		if e.Message != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error without a cause.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around err. Context cancellation and deadline
// errors are classified here so every stage reports them the same way:
// cancellation becomes KindCancelled, a deadline keeps kind and sets
// Timeout.
func Wrap(kind Kind, op string, err error, format string, args ...any) *Error {
	e := &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
	switch {
	case errors.Is(err, context.Canceled):
		e.Kind = KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		e.Timeout = true
	}
	return e
}

// WithOutput attaches an excerpt of captured output.
func (e *Error) WithOutput(out []byte) *Error {
	e.Output = Excerpt(out, ExcerptLimit)
	return e
}

// KindOf returns the kind of the first *Error in err's chain. Bare context
// errors are classified too, so callers that never reached a component
// still map correctly.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return ""
}

// IsTimeout reports whether err is a stage deadline.
func IsTimeout(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Timeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// OutputOf returns the captured output attached to err, if any.
func OutputOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Output
	}
	return ""
}

// Excerpt returns at most n bytes of b as a string, marking truncation.
func Excerpt(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}

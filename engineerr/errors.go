// Package engineerr implements the engine's error taxonomy: every
// operation tags its errors with the Op that produced them and a Kind
// that tells the caller whether the failure is user-visible (a bad
// tracker URL, an unknown choke group) or an internal invariant
// violation (fatal for the current operation, never for the process).
package engineerr

import (
	"errors"
	"fmt"
	"strings"
)

// Op names the operation that produced an error, e.g.
// "transfer.TransferList.HashFailed".
type Op string

func (op Op) String() string { return string(op) }

// Kind classifies an error for the caller.
type Kind int

const (
	Other Kind = iota
	Internal
	IO
	Network
	BadArgument
)

func (k Kind) String() string {
	switch k {
	case Internal:
		return "internal error"
	case IO:
		return "I/O error"
	case Network:
		return "network error"
	case BadArgument:
		return "bad argument"
	default:
		return "error"
	}
}

// Error is a wrapped error carrying the Op that produced it and a Kind.
type Error struct {
	Err error
	Op  Op
	Kind
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(string(e.Op))
		sb.WriteString(": ")
	}
	if e.Err != nil {
		sb.WriteString(e.Err.Error())
	} else {
		sb.WriteString(e.Kind.String())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Ops returns the chain of Op values recorded on err, innermost last.
func Ops(err error) []Op {
	var out []Op
	for err != nil {
		e, ok := err.(*Error)
		if !ok {
			break
		}
		if e.Op != "" {
			out = append(out, e.Op)
		}
		err = e.Err
	}
	return out
}

// KindOf returns the Kind recorded on err, or Other if err was never
// wrapped by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// Wrap attaches op and kind (if given) to err. If err is already an
// *Error, its Kind is preserved unless overridden by an explicit Kind
// argument.
func Wrap(err error, op Op, kind ...Kind) error {
	if err == nil {
		return nil
	}

	e := &Error{Err: err, Op: op}

	if inner, ok := err.(*Error); ok {
		e.Kind = inner.Kind
	}

	for _, k := range kind {
		e.Kind = k
	}

	return e
}

// New constructs a plain, unwrapped error.
func New(text string) error { return errors.New(text) }

// Newf constructs a plain, unwrapped, formatted error.
func Newf(format string, args ...interface{}) error { return fmt.Errorf(format, args...) }

// Fatal reports whether err indicates an invariant violation rather
// than an ordinary, expected, first-class outcome (bad tracker data,
// peer disconnect). Callers use this to decide whether to log-and-abort
// the current operation (spec §7) or fold the failure into scheduling.
func Fatal(err error) bool {
	k := KindOf(err)
	return k == Internal
}

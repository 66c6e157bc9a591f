// Package cdferr defines the error kinds shared by every cdfkit component.
//
// All kinds are fatal to a single invocation. A verification that returns
// false is a result, never an error.
package cdferr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// MalformedInput covers bad hex, wrong argument counts and malformed DER.
	MalformedInput Kind = iota + 1
	// Overflow means an integer does not fit a fixed-width field.
	Overflow
	// InvalidKey means key construction produced an inconsistent or
	// non-invertible value.
	InvalidKey
	// KeyValidationFailed means the backend rejected the key under its own
	// validation routine.
	KeyValidationFailed
	// PrimitiveFailed means the backend reported that the operation itself failed.
	PrimitiveFailed
	// Unsupported means the selected backend does not offer the operation.
	Unsupported
)

// String returns the kind name used in diagnostics.
func (k Kind) String() string {
	switch k {
	case MalformedInput:
		return "MalformedInput"
	case Overflow:
		return "Overflow"
	case InvalidKey:
		return "InvalidKey"
	case KeyValidationFailed:
		return "KeyValidationFailed"
	case PrimitiveFailed:
		return "PrimitiveFailed"
	case Unsupported:
		return "Unsupported"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrMalformedInput      = &Error{Kind: MalformedInput}
	ErrOverflow            = &Error{Kind: Overflow}
	ErrInvalidKey          = &Error{Kind: InvalidKey}
	ErrKeyValidationFailed = &Error{Kind: KeyValidationFailed}
	ErrPrimitiveFailed     = &Error{Kind: PrimitiveFailed}
	ErrUnsupported         = &Error{Kind: Unsupported}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "hex decode".
	Op  string
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind with a formatted message.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

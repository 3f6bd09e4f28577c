package hmap

import "fmt"

// --------------------------------------------------------------------------
// Error Kinds
// --------------------------------------------------------------------------

type ErrorKind uint64

const (
	KindInternal        ErrorKind = iota // 0: Unexpected internal state
	KindAlreadyExists                    // 1: CreateOnly found an existing key
	KindNotFound                         // 2: UpdateOnly/Delete found no key, or iteration is complete
	KindOutOfCapacity                    // 3: No element could be obtained for an insert
	KindBusy                             // 4: The reentrancy guard refused a bucket lock
	KindInvalidArgument                  // 5: Key/value size mismatch or invalid configuration
	KindNoSpace                          // 6: A batch buffer is too small for a single bucket
	KindClosed                           // 7: The map has been closed
)

func (k ErrorKind) String() string {
	switch k {
	case KindInternal:
		return "Internal"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindNotFound:
		return "NotFound"
	case KindOutOfCapacity:
		return "OutOfCapacity"
	case KindBusy:
		return "Busy"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNoSpace:
		return "NoSpace"
	case KindClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps an error kind and a message.
// Two errors match under errors.Is when their kinds are equal, so callers
// compare against the sentinels below regardless of the message.
type Error struct {
	Kind ErrorKind
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("hmap: %s", e.Kind)
	}
	return fmt.Sprintf("hmap (%s): %s", e.Kind, e.Msg)
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError creates a new Error with the given kind and message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
	}
}

var (
	ErrAlreadyExists   = &Error{Kind: KindAlreadyExists}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrOutOfCapacity   = &Error{Kind: KindOutOfCapacity}
	ErrBusy            = &Error{Kind: KindBusy}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrNoSpace         = &Error{Kind: KindNoSpace}
	ErrClosed          = &Error{Kind: KindClosed}

	// ErrWouldDeadlock is returned when taking a lock would self-deadlock
	// or invert the LRU-before-bucket lock order. It is the same kind as ErrBusy.
	ErrWouldDeadlock = ErrBusy
)

// Package fault models the fatal protocol violations in spec.md §7: the
// class of errors that do not get translated into a packet or event, and
// instead halt the drone outright with a diagnostic identifying the
// invariant that was violated.
package fault

import "fmt"

// Error is a fatal protocol violation. It is a distinct type (rather than a
// plain sentinel) so callers can distinguish "halt the drone" from the
// plain errors config and nack return, which carry no such meaning until a
// caller wraps them.
type Error struct {
	msg string
	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("fatal: %s: %v", e.msg, e.err)
	}
	return "fatal: " + e.msg
}

func (e *Error) Unwrap() error { return e.err }

// New creates a fatal Error with a formatted message.
func New(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a fatal Error that names the invariant violated (msg) and
// wraps an underlying error, typically one already returned by config,
// nack, or an output port's Send.
func Wrap(msg string, err error) *Error {
	return &Error{msg: msg, err: err}
}

// As reports whether err is a *fault.Error.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

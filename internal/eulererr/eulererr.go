// Package eulererr defines the error taxonomy shared by every layer of
// Euler, from a single operator kernel up through the fan-out gather
// barrier, so that a shard-local failure and a planner-level failure carry
// the same five-code vocabulary end to end.
package eulererr

import "fmt"

// Code classifies a Status by recoverability and cause, per spec §7.
type Code int

const (
	// OK indicates success; Status values with this code are never
	// constructed by New, only returned by helpers that need a zero value.
	OK Code = iota
	// InvalidArgument covers missing/ill-shaped input, an unknown feature
	// name, or an unknown operator name.
	InvalidArgument
	// NotFound covers a missing node, edge, or index.
	NotFound
	// OutOfRange covers a sampler whose weight sum is zero.
	OutOfRange
	// Internal covers a checksum mismatch or an unreachable coordination
	// store.
	Internal
	// Unavailable covers a shard that is deregistered or unreachable at
	// dispatch time.
	Unavailable
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case OutOfRange:
		return "OutOfRange"
	case Internal:
		return "Internal"
	case Unavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// Status is the concrete error type carried across Euler's package
// boundaries. Kernels, the DAG executor, the planner, and the fan-out
// client all return *Status (wrapped as error) rather than ad hoc sentinel
// errors, so a caller can branch on Code without knowing which layer failed.
type Status struct {
	Message string
	Code    Code
}

func (s *Status) Error() string {
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}

// New constructs a Status with the given code and formatted message.
func New(code Code, format string, args ...any) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a *Status with the given code, by a direct type
// assertion: a *Status wrapped inside another error is not unwrapped and
// reports false.
func Is(err error, code Code) bool {
	s, ok := err.(*Status)
	return ok && s.Code == code
}

// CodeOf extracts the Code from err, returning Internal for any error that
// is not a *Status — an unexpected error shape is itself an internal fault.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if s, ok := err.(*Status); ok {
		return s.Code
	}
	return Internal
}

package elacsym

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the stable categories surfaced to
// clients. Every component in the engine reports failures through these
// kinds; the external HTTP layer owns the mapping to status codes.
type Kind uint8

const (
	// KindUnknown is the zero value; errors without a kind map here.
	KindUnknown Kind = iota
	// KindInvalidRequest covers schema/type mismatches, dimension
	// mismatches, and out-of-range parameters.
	KindInvalidRequest
	// KindNotFound indicates a missing namespace or document.
	KindNotFound
	// KindConflict indicates a failed precondition (a conditional write
	// lost a race).
	KindConflict
	// KindWrongOwner indicates a write sent to a non-owning node. The
	// error carries the responsible node id for client-side redirect.
	KindWrongOwner
	// KindStorage covers object store I/O, disk I/O, and WAL write
	// failures.
	KindStorage
	// KindCorruption covers CRC mismatches, truncated entries, and
	// unreadable structural files.
	KindCorruption
	// KindTimeout indicates the request deadline elapsed and the request
	// was cancelled at a suspension point.
	KindTimeout
	// KindCapacity indicates the request exceeds configured limits or the
	// cache rejected admission for a request that cannot be served
	// without caching.
	KindCapacity
	// KindUnavailable indicates a dependency is temporarily down; the
	// request may be retried.
	KindUnavailable
)

// Code returns the stable external code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindWrongOwner:
		return "wrong_owner"
	case KindStorage:
		return "storage"
	case KindCorruption:
		return "corruption"
	case KindTimeout:
		return "timeout"
	case KindCapacity:
		return "capacity"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func (k Kind) String() string { return k.Code() }

// Error is the engine-wide error type. It carries a Kind, a human-readable
// message, and an optional wrapped cause reachable via errors.Unwrap.
type Error struct {
	Kind Kind
	// Node is set for KindWrongOwner: the id of the responsible indexer.
	Node string

	msg   string
	cause error
}

func (e *Error) Error() string {
	switch {
	case e.msg != "" && e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.msg, e.cause)
	case e.msg != "":
		return fmt.Sprintf("%s: %s", e.Kind.Code(), e.msg)
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind.Code(), e.cause)
	default:
		return e.Kind.Code()
	}
}

func (e *Error) Unwrap() error { return e.cause }

// E creates a new error of the given kind.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: err}
}

// WrongOwner creates a KindWrongOwner error naming the responsible node.
func WrongOwner(namespace, node string) *Error {
	return &Error{
		Kind: KindWrongOwner,
		Node: node,
		msg:  fmt.Sprintf("namespace %q is owned by node %q", namespace, node),
	}
}

// KindOf extracts the Kind from err, walking the wrap chain. Errors outside
// the taxonomy report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err (or any wrapped cause) carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

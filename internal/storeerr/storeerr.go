// Package storeerr defines the error kinds surfaced by the datastore engine,
// query executor, and their supporting packages.
package storeerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed. Kinds are not Go error types;
// callers distinguish them with Is, not a type switch.
type Kind int

const (
	// BadArgument signals a missing required argument or contradictory flags.
	BadArgument Kind = iota
	// InvalidId signals an identifier that is neither 16 raw bytes nor 32 hex chars.
	InvalidId
	// InvalidIndexField signals an index field name containing a forbidden character.
	InvalidIndexField
	// EmptyInClause signals an IN predicate built with no values.
	EmptyInClause
	// Unplannable signals that no index covers any predicate field and no ordering was given.
	Unplannable
	// NotImplemented signals an unimplemented feature, such as multi-shard routing.
	NotImplemented
	// CorruptBody signals malformed JSON in a stored body.
	CorruptBody
	// CorruptCompression signals a decompression failure on a stored body.
	CorruptCompression
	// IndexConflict signals a unique-key violation during an index insert.
	IndexConflict
	// Backend signals an underlying SQL error not explicitly recovered.
	Backend
	// InternalError signals an impossible state, such as an unknown operator code.
	InternalError
)

func (k Kind) String() string {
	switch k {
	case BadArgument:
		return "bad_argument"
	case InvalidId:
		return "invalid_id"
	case InvalidIndexField:
		return "invalid_index_field"
	case EmptyInClause:
		return "empty_in_clause"
	case Unplannable:
		return "unplannable"
	case NotImplemented:
		return "not_implemented"
	case CorruptBody:
		return "corrupt_body"
	case CorruptCompression:
		return "corrupt_compression"
	case IndexConflict:
		return "index_conflict"
	case Backend:
		return "backend"
	case InternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Error is a kinded error: every failure the store reports carries a Kind
// alongside the usual operation name and wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a kinded error for op, optionally wrapping cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// Package apperr implements the tagged error kinds spec.md §7 describes:
// a small closed set of error classes that every layer propagates
// unchanged up to the RPC boundary, where they map to HTTP status codes.
// The teacher's handlers matched on error message substrings
// (`strings.Contains(err.Error(), "not found")`); this package replaces
// that with a typed kind any layer can construct and any boundary can
// switch on without string matching.
package apperr

import "fmt"

// Kind is one of the error classes spec.md §7 enumerates.
type Kind int

const (
	Internal Kind = iota
	BadInput
	NotFound
	Forbidden
	Conflict
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case BadInput:
		return "BadInput"
	case NotFound:
		return "NotFound"
	case Forbidden:
		return "Forbidden"
	case Conflict:
		return "Conflict"
	case Unavailable:
		return "Unavailable"
	default:
		return "Internal"
	}
}

// HTTPStatus maps a Kind to the status code spec.md §7 assigns it.
func (k Kind) HTTPStatus() int {
	switch k {
	case BadInput:
		return 400
	case Forbidden:
		return 403
	case NotFound:
		return 404
	case Conflict:
		return 409
	case Unavailable:
		return 503
	default:
		return 500
	}
}

// Error is a tagged application error. Internal-kind errors carry full
// context for logging; their external message is deliberately generic
// (spec.md §7: "external responses carry a short human-readable message
// only").
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// PublicMessage is what the RPC boundary should return to the caller:
// the short message for every kind, but never the wrapped internal error
// detail for Internal-kind errors.
func (e *Error) PublicMessage() string {
	if e.Kind == Internal {
		return "internal error"
	}
	return e.Message
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func BadInputf(format string, args ...any) *Error {
	return New(BadInput, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) *Error {
	return New(Forbidden, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

func Internalf(err error, format string, args ...any) *Error {
	return Wrap(Internal, fmt.Sprintf(format, args...), err)
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error,
// defaulting to Internal for plain errors — matching spec.md §7's
// policy that anything not explicitly classified is treated as internal.
func KindOf(err error) Kind {
	var appErr *Error
	if ok := asError(err, &appErr); ok {
		return appErr.Kind
	}
	return Internal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

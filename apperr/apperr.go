// Package apperr defines the error taxonomy shared by the booking, payment and
// ledger packages, and the single table that maps it onto HTTP statuses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags an Error with its failure class.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindAlreadyPaid
	KindConfiguration
	KindUpstreamTimeout
	KindUpstream
	KindPersistence
)

var kindNames = map[Kind]string{
	KindInternal:        "internal",
	KindValidation:      "validation",
	KindUnauthorized:    "unauthorized",
	KindForbidden:       "forbidden",
	KindNotFound:        "not_found",
	KindConflict:        "conflict",
	KindAlreadyPaid:     "already_paid",
	KindConfiguration:   "configuration",
	KindUpstreamTimeout: "upstream_timeout",
	KindUpstream:        "upstream",
	KindPersistence:     "persistence",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "internal"
}

// statusByKind is the one place kinds become HTTP statuses.
var statusByKind = map[Kind]int{
	KindInternal:        http.StatusInternalServerError,
	KindValidation:      http.StatusBadRequest,
	KindUnauthorized:    http.StatusUnauthorized,
	KindForbidden:       http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindAlreadyPaid:     http.StatusConflict,
	KindConfiguration:   http.StatusServiceUnavailable,
	KindUpstreamTimeout: http.StatusGatewayTimeout,
	KindUpstream:        http.StatusBadGateway,
	KindPersistence:     http.StatusInternalServerError,
}

// ErrDuplicate marks a unique-index violation reported by a store.
var ErrDuplicate = errors.New("duplicate key")

// Error is the tagged error returned across package boundaries.
// Message is safe to show to API clients; Err is for logs only.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func Validation(code, msg string) *Error   { return New(KindValidation, code, msg) }
func Forbidden(code, msg string) *Error    { return New(KindForbidden, code, msg) }
func NotFound(code, msg string) *Error     { return New(KindNotFound, code, msg) }
func Conflict(code, msg string) *Error     { return New(KindConflict, code, msg) }
func Unauthorized(code, msg string) *Error { return New(KindUnauthorized, code, msg) }

func AlreadyPaid(msg string) *Error { return New(KindAlreadyPaid, "already_paid", msg) }

func Configuration(code, msg string) *Error { return New(KindConfiguration, code, msg) }

func UpstreamTimeout(code, msg string, err error) *Error {
	return Wrap(KindUpstreamTimeout, code, msg, err)
}

func Upstream(code, msg string, err error) *Error { return Wrap(KindUpstream, code, msg, err) }

func Persistence(code, msg string, err error) *Error {
	return Wrap(KindPersistence, code, msg, err)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps any error onto a response status.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return statusByKind[KindOf(err)]
}

// Public returns the client-facing code and message for err. Errors outside
// the taxonomy never leak their text.
func Public(err error) (code, msg string) {
	var e *Error
	if errors.As(err, &e) {
		code = e.Code
		if code == "" {
			code = e.Kind.String()
		}
		if e.Kind == KindInternal || e.Kind == KindPersistence {
			return code, "internal error"
		}
		return code, e.Message
	}
	return "internal", "internal error"
}

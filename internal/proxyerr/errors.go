// Package proxyerr defines the typed error kinds spec.md §7 enumerates, so
// the fan-out coordinator and the HTTP layer can pattern-match on Kind
// instead of relying on exceptions-for-control-flow the way the system this
// was distilled from does.
package proxyerr

import (
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies an error for retry/propagation decisions.
type Kind int

const (
	// KindValidation covers bad path, bad metadata, bad content-length, bad
	// UTF-8 — rejected before any backend traffic.
	KindValidation Kind = iota
	// KindAuthorization is returned by the authorize hook.
	KindAuthorization
	// KindLookupMiss signals the account/container was not found in the
	// lookup cache or on the backends.
	KindLookupMiss
	// KindNodeTransient covers connect failure, read/write timeout, ordinary 5xx.
	KindNodeTransient
	// KindNodeFatal covers 507 disk-full.
	KindNodeFatal
	// KindQuorumFailure means not enough backends agreed or responded.
	KindQuorumFailure
	// KindClientTimeout means the client stopped sending/reading in time.
	KindClientTimeout
	// KindClientDisconnect means the client connection was closed mid-request.
	KindClientDisconnect
	// KindManifestError means large-object assembly failed mid-stream.
	KindManifestError
	// KindInconsistentEtag means backends disagreed on a write's resulting etag.
	KindInconsistentEtag
)

// Error wraps an underlying cause with a Kind and the HTTP status the
// caller should translate it to.
type Error struct {
	Kind    Kind
	Status  int
	cause   error
	message string
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

// Unwrap lets errors.As/errors.Is see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// New builds a Kind-tagged error with no deeper cause.
func New(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, message: message}
}

// Wrap attaches a Kind and status to an existing error, preserving a stack
// trace via github.com/pkg/errors the way the retrieval pack's broker
// example layers error context across call boundaries.
func Wrap(kind Kind, status int, cause error, message string) *Error {
	return &Error{Kind: kind, Status: status, cause: errors.WithStack(cause), message: message}
}

// Validation is a convenience constructor for the most common error kind:
// a 4xx rejected before any backend traffic.
func Validation(status int, message string) *Error {
	return New(KindValidation, status, message)
}

// QuorumFailure builds the standard "not enough backends agreed" error.
func QuorumFailure(message string) *Error {
	return New(KindQuorumFailure, http.StatusServiceUnavailable, message)
}

// AsKind extracts the Kind of err if it is (or wraps) a *Error.
func AsKind(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// StatusOf returns the HTTP status to send for err, defaulting to 500 for
// anything not a *Error — an uncaught error is always a 500 per spec.md §4.9.
func StatusOf(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Status
	}
	return http.StatusInternalServerError
}

// Package qerrors defines the error taxonomy shared across QuickShare's
// components: an Op/File/Err/Details wrapper with Unwrap support, tagged
// with a Kind so callers can distinguish IoError from NetworkError from
// ProtocolError etc. with errors.As (or IsNetwork), and match the sentinel
// causes below with errors.Is.
package qerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a QuickShare error for caller-side handling.
type Kind string

const (
	KindIO                Kind = "io"
	KindNetwork           Kind = "network"
	KindProtocol          Kind = "protocol"
	KindAuth              Kind = "auth"
	KindSecurity          Kind = "security"
	KindTunnelStartFailed Kind = "tunnel_start_failed"
	KindCancelled         Kind = "cancelled"
)

// Sentinel errors usable with errors.Is regardless of the wrapping Op/File.
var (
	ErrCancelled            = errors.New("operation cancelled")
	ErrSignalingUnavailable = errors.New("rendezvous relay unavailable")
	ErrHashMismatch         = errors.New("file hash mismatch")
	ErrUnsafePath           = errors.New("unsafe destination path")
	ErrAuthRequired         = errors.New("authentication required")
	ErrAuthFailed           = errors.New("authentication failed")
)

// Error is the shared wrapped-error shape: Kind classifies it, Op names
// the failing operation, File is optionally the file it concerns, and Err
// is the underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	File    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	switch {
	case e.File != "":
		return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.File, e.Err)
	case e.Details != "":
		return fmt.Sprintf("%s: %s: %v (%s)", e.Kind, e.Op, e.Err, e.Details)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err as kind/op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewFile wraps err as kind/op, attached to a specific file.
func NewFile(kind Kind, op, file string, err error) *Error {
	return &Error{Kind: kind, Op: op, File: file, Err: err}
}

// NewDetails wraps err as kind/op with a free-form detail string.
func NewDetails(kind Kind, op string, err error, details string) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Details: details}
}

// IsNetwork reports whether err is (or wraps) a NetworkError, the only
// kind the retry-with-backoff policy applies to.
func IsNetwork(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNetwork
}

// IsCancelled reports whether err represents a user-requested stop rather
// than a genuine failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

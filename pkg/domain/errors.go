package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP status mapping and logging, mirroring
// the distinct failure kinds the reconciliation engine must distinguish:
// caller mistakes, lookup misses, allocator exhaustion, and OS command
// failures each need a different response and a different log verbosity.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindNoAddressAvail     Kind = "no_address_available"
	KindNoPortAvail        Kind = "no_port_available"
	KindCommandFailed      Kind = "command_failed"
	KindCommandSpawnFailed Kind = "command_spawn_failed"
	KindPersistence        Kind = "persistence"
)

// Error is the single error type returned by the core packages. It carries
// a Kind for status-code mapping plus a PublicMessage that is safe to show
// to an API caller — the wrapped Err may reference key material or private
// filesystem paths and must never reach a 5xx response body.
type Error struct {
	Kind          Kind
	PublicMessage string
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.PublicMessage, e.Err)
	}
	return e.PublicMessage
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, public string, err error) *Error {
	return &Error{Kind: kind, PublicMessage: public, Err: err}
}

// ValidationErrorf reports a caller-supplied desired state that violates
// an invariant (bad CIDR, out-of-range port, unknown tunnel, ...).
func ValidationErrorf(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return newErr(KindValidation, msg, nil)
}

// NotFoundf reports a lookup miss.
func NotFoundf(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return newErr(KindNotFound, msg, nil)
}

// ErrNoAddressAvailable is returned by the IP allocator when every
// candidate in the swept CIDRs is already assigned to a tunnel.
var ErrNoAddressAvailable = newErr(KindNoAddressAvail, "no address available in the configured CIDR pools", nil)

// ErrNoPortAvailable is returned by the port allocator when 60000
// consecutive candidates starting at the hint are all in use.
var ErrNoPortAvailable = newErr(KindNoPortAvail, "no local port available", nil)

// CommandFailed reports a child process that exited non-zero.
type CommandFailed struct {
	Argv     []string
	ExitCode int
	Output   string
}

func (e *CommandFailed) Error() string {
	return fmt.Sprintf("command %v exited %d", e.Argv, e.ExitCode)
}

// CommandSpawnFailed reports that the child process could not be started
// at all (binary missing, permission denied, fork failure).
type CommandSpawnFailed struct {
	Argv []string
	Err  error
}

func (e *CommandSpawnFailed) Error() string {
	return fmt.Sprintf("failed to spawn %v: %v", e.Argv, e.Err)
}

func (e *CommandSpawnFailed) Unwrap() error { return e.Err }

// WrapCommandError classifies a command failure into the public-facing
// *Error, keeping the argv/exit-code/output detail out of PublicMessage so
// that it only ever reaches the log, never an HTTP response body.
func WrapCommandError(err error) error {
	switch e := err.(type) {
	case *CommandFailed:
		return newErr(KindCommandFailed, "an operating system command failed", e)
	case *CommandSpawnFailed:
		return newErr(KindCommandSpawnFailed, "an operating system command could not be started", e)
	default:
		return err
	}
}

// PersistenceErrorf reports a store failure. No caller retries an
// operation that fails with this kind.
func PersistenceErrorf(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return newErr(KindPersistence, msg, nil)
}

// KindOf extracts the Kind of err, defaulting to KindPersistence for any
// error that did not originate from this package (treated as an
// unanticipated internal failure, not a caller mistake).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// PublicMessageOf extracts the sanitized message, defaulting to a generic
// string that leaks nothing about the internal cause.
func PublicMessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.PublicMessage
	}
	return "internal error"
}

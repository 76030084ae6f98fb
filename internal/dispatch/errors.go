package dispatch

import "errors"

// Domain errors for the dispatch package.
var (
	// ErrInvalidCommand is returned when a command is not meaningful
	// for a device's kind. Never retried, never reaches the network.
	ErrInvalidCommand = errors.New("dispatch: invalid command")

	// ErrInvalidValue is returned when a command value has the wrong
	// shape (e.g. set_colour without r/g/b).
	ErrInvalidValue = errors.New("dispatch: invalid value")

	// ErrAcquireTimeout is returned when a device's exclusive
	// connection slot could not be acquired in time.
	ErrAcquireTimeout = errors.New("dispatch: acquire timeout")

	// ErrAwaitingConfig is returned when dispatching to a discovered
	// device that has no credentials yet.
	ErrAwaitingConfig = errors.New("dispatch: device awaiting configuration")
)

// ErrorKind is the stable failure code surfaced with every failed
// Outcome, so callers can decide whether to retry, re-configure, or alert
// a human without parsing message text.
type ErrorKind string

const (
	// ErrKindInvalidCommand: command not meaningful for the device kind.
	ErrKindInvalidCommand ErrorKind = "invalid_command"

	// ErrKindNotFound: unknown device id.
	ErrKindNotFound ErrorKind = "not_found"

	// ErrKindTimeout: acquisition or overall operation deadline exceeded.
	ErrKindTimeout ErrorKind = "timeout"

	// ErrKindTransportTransient: retried up to the ceiling, still failing.
	ErrKindTransportTransient ErrorKind = "transport_transient"

	// ErrKindTransportPermanent: credential or parameter rejected by the
	// device. Re-run pairing / fix the seed entry.
	ErrKindTransportPermanent ErrorKind = "transport_permanent"

	// ErrKindConfigInvalid: the device record is not commandable yet
	// (discovered, awaiting credentials).
	ErrKindConfigInvalid ErrorKind = "config_invalid"
)

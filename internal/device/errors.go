package device

import "errors"

// Domain errors for the device package. Check with errors.Is:
//
//	if errors.Is(err, device.ErrNotFound) { ... }
var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrInvalidRecord is returned when record validation fails.
	ErrInvalidRecord = errors.New("device: invalid record")

	// ErrMissingField is returned by the seed loader for a record
	// lacking a required field. Wrapped with the field name.
	ErrMissingField = errors.New("device: missing required field")

	// ErrKindImmutable is returned when an upsert attempts to change an
	// existing record's kind.
	ErrKindImmutable = errors.New("device: kind is immutable")
)

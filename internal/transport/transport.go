package transport

import "context"

// Params is a device parameter map: Tuya DPS index (decimal string) to
// value. It is the unit of exchange for both commands and status replies.
type Params map[string]any

// Endpoint carries everything the adapter needs to reach one device.
type Endpoint struct {
	DeviceID        string
	Address         string
	CredentialKey   string
	ProtocolVersion string
}

// Session is one live connection to a device. Sessions are created by an
// Adapter and owned exclusively by the connection gate: at most one exists
// per device at any instant, because the devices physically reject a
// second concurrent connection.
type Session interface {
	// DeviceID returns the id of the device this session is bound to.
	DeviceID() string
}

// Adapter performs wire-level communication with one device: framing,
// encryption, and protocol-version negotiation live behind this interface.
//
// Implementations must classify failures with Transient or Permanent so
// the dispatcher can decide whether to retry; an unclassified error is
// treated as transient.
type Adapter interface {
	// Open establishes a session to the device at the given endpoint.
	Open(ctx context.Context, ep Endpoint) (Session, error)

	// Send transmits one parameter map and returns the device's reply.
	Send(ctx context.Context, s Session, params Params) (Params, error)

	// Status queries the device's full current parameter snapshot.
	Status(ctx context.Context, s Session) (Params, error)

	// Close tears down the session. Safe to call on an already broken
	// session.
	Close(s Session) error
}

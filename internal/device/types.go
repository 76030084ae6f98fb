package device

import "time"

// Kind categorises a device and determines which commands are semantically
// valid for it and how command values map to Tuya data points.
type Kind string

// Supported device kinds. These match the device_type values produced by
// the TinyTuya wizard.
const (
	KindBulb    Kind = "bulb"
	KindOutlet  Kind = "outlet"
	KindSwitch  Kind = "switch"
	KindGeneric Kind = "generic"
)

// Reachability is the engine's cached belief about whether a device
// currently responds on the local network.
type Reachability string

// Reachability states.
const (
	ReachabilityUnknown Reachability = "unknown"
	ReachabilityOnline  Reachability = "online"
	ReachabilityOffline Reachability = "offline"
)

// Status is a snapshot of device parameters (Tuya DPS index → value).
// Keys are decimal strings ("1", "20") matching the wire representation.
type Status map[string]any

// Record is one known device: its static configuration plus the live
// status cache maintained by dispatch and discovery.
type Record struct {
	// ID is the vendor-assigned device identifier. Immutable.
	ID string `json:"id"`

	// DisplayName is the human label. Mutable by configuration only.
	DisplayName string `json:"display_name"`

	// Address is the last-known network address, refreshed by discovery
	// or by configuration.
	Address string `json:"address"`

	// CredentialKey is the local key the transport needs to talk to the
	// device. Only configuration may set it; discovery never touches it.
	CredentialKey string `json:"-"`

	// ProtocolVersion selects transport behaviour ("3.1" .. "3.5").
	ProtocolVersion string `json:"protocol_version"`

	// Kind is set once at creation and never changed automatically.
	Kind Kind `json:"kind"`

	// LastStatus is the most recent observed parameter snapshot.
	LastStatus Status `json:"last_status"`

	// StatusAt is when LastStatus was observed. Nil until the first
	// observation.
	StatusAt *time.Time `json:"status_at,omitempty"`

	// Reachability is updated only by dispatch results and discovery.
	Reachability Reachability `json:"reachability"`

	// LastError summarises the most recent failure. Cleared on success.
	LastError string `json:"last_error,omitempty"`

	// PendingConfig marks a device inserted by discovery that cannot be
	// commanded until credentials arrive through the seed file.
	PendingConfig bool `json:"pending_config"`

	// Timestamps.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone creates an independent copy of the Record. The status map is
// cloned so mutations of the copy never reach the registry cache.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cpy := *r
	cpy.LastStatus = cloneStatus(r.LastStatus)
	if r.StatusAt != nil {
		at := *r.StatusAt
		cpy.StatusAt = &at
	}
	return &cpy
}

// Commandable reports whether the record carries enough configuration to
// be dispatched to. Discovered-pending devices are not commandable.
func (r *Record) Commandable() bool {
	return !r.PendingConfig && r.CredentialKey != "" && r.Address != ""
}

// cloneStatus deep-copies a status map. Nested maps and slices appear in
// colour and scene parameters.
func cloneStatus(s Status) Status {
	if s == nil {
		return nil
	}
	cpy := make(Status, len(s))
	for k, v := range s {
		cpy[k] = cloneValue(v)
	}
	return cpy
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cpy := make(map[string]any, len(val))
		for k, elem := range val {
			cpy[k] = cloneValue(elem)
		}
		return cpy
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = cloneValue(elem)
		}
		return cpy
	default:
		// Primitives are safe to copy by value
		return v
	}
}

// ParseKind validates a device_type string from the seed file.
// Unrecognised values fall back to KindGeneric: the TinyTuya wizard emits
// free-form types and an unknown type must not block commanding the device
// through the generic mapping.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindBulb, KindOutlet, KindSwitch:
		return Kind(s)
	default:
		return KindGeneric
	}
}

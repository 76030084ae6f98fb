// Package transport defines the boundary to the Tuya wire protocol.
//
// The dispatch engine never frames packets or touches AES itself; it talks
// to devices exclusively through the Adapter interface, which a concrete
// protocol implementation (or a test fake) satisfies. The package also
// defines the transient/permanent fault classification the dispatcher's
// retry policy is built on.
package transport

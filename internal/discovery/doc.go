// Package discovery merges device presence broadcasts into the registry.
//
// Tuya devices announce {gwId, ip, version} over UDP broadcast every few
// seconds. A discovery pass (Merger.Run) listens for a bounded budget and
// reconciles each announcement:
//
//   - Known device: refresh address, protocol version and reachability.
//     A repeat announcement with nothing new is a no-op.
//   - Unknown device: insert a record awaiting configuration. No
//     credentials are fabricated; the device stays uncommandable until
//     the operator supplies its local key through the seed file.
//
// The network is an untrusted input. Announcements can never modify
// credentials, device kind or display name, so the blast radius of a
// forged broadcast is a stale address on one record.
//
// UDPSource handles the socket; payload decryption for newer firmware is
// injected as a DecodeFunc so the cipher stays in the transport layer.
package discovery

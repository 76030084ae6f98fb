// Package device provides the device registry for tuyalink.
//
// The registry is the in-memory table of every known Tuya device: static
// configuration from the devices.json seed file, plus the live status cache
// maintained by command dispatch and network discovery. It is backed by a
// SQLite Repository so discovered devices and last observed state survive
// restarts.
//
// # Key Types
//
//   - Record: one device's configuration and cached state
//   - Kind: device category (bulb, outlet, switch, generic) driving
//     command validation and DPS mapping
//   - Registry: single-writer store with snapshot reads
//   - Repository: persistence interface (SQLite implementation provided)
//
// # Trust boundaries
//
// Credential material (the device local key) enters only through the seed
// file via Seed(). Discovery announcements may refresh a device's address,
// protocol version, and reachability through MergeDiscovered(), but can
// never set or replace credentials, rename a device, or change its kind.
// Unknown discovered devices are inserted pending configuration and are
// not commandable.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Writers serialise on a
// single lock; readers receive cloned snapshots, so no caller can observe
// or cause a torn record.
package device

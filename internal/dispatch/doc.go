// Package dispatch executes device commands with per-device connection
// exclusivity, retries, and batch coordination.
//
// Tuya devices reject a second concurrent connection, so everything in
// this package is organised around one rule: at most one live session per
// device, with same-device commands served strictly first-in first-out.
//
// Architecture:
//
//	┌────────────────────────────────────────────────────────┐
//	│                 Batcher (batch.go)                      │
//	│  Groups operations by device; devices fan out in        │
//	│  parallel, same-device operations run sequentially      │
//	└────────────────────┬───────────────────────────────────┘
//	                     ▼
//	┌────────────────────────────────────────────────────────┐
//	│               Dispatcher (dispatcher.go)                │
//	│  1. Validate command against the device's kind          │
//	│  2. Acquire the device's exclusive slot (Gate)          │
//	│  3. Attempt loop: open/reuse session, send, read back   │
//	│  4. Transient fault → backoff and retry up to ceiling   │
//	│     Permanent fault → fail immediately, mark offline    │
//	│  5. Record resulting status in the device registry      │
//	│  6. Release the slot (invalidating a broken session)    │
//	└────────────────────┬───────────────────────────────────┘
//	                     ▼
//	┌────────────────────────────────────────────────────────┐
//	│                   Gate (gate.go)                        │
//	│  Per-device slot: busy flag, FIFO waiter queue, warm    │
//	│  session cache with idle expiry                         │
//	└────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Operation: One command request (device_id, command, value)
//   - Outcome: Terminal result with a stable error_kind code
//   - Gate / Lease: Exclusive per-device connection ownership
//   - Dispatcher: Single-command execution with retry policy
//   - Batcher: Multi-command coordination with partial failure
//
// # Thread Safety
//
// Gate, Dispatcher and Batcher are safe for concurrent use. A Lease is
// owned by exactly one goroutine between Acquire and Release.
//
// # Caller Timeouts
//
// An in-flight transport call cannot be cancelled. When a caller's
// context expires mid-call, Dispatch returns a timeout outcome at once,
// but the device's slot stays held until the call actually returns; the
// real result is still recorded in the registry. Commands queued behind
// a slow device therefore wait for the wire, not for the caller.
package dispatch

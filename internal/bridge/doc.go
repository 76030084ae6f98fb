// Package bridge connects the command dispatcher to the MQTT bus.
//
// Message flow:
//
//	tuyalink/command/{device_id}  →  Dispatcher  →  tuyalink/event/dispatch
//	                                            ↘  tuyalink/state/{device_id} (retained)
//
// Commands carry {id, command, value}; the device id comes from the
// topic. Every command reaches a terminal outcome event, including
// failures, so publishers can correlate by command id. State topics are
// retained, giving new subscribers the last known device state without a
// round trip to the device.
//
// The bridge is one of two command surfaces (the other is the HTTP API);
// both funnel into the same dispatcher, so per-device exclusivity and
// ordering hold across surfaces.
package bridge

// Package influxdb provides optional time-series telemetry for tuyalink.
//
// It wraps the official influxdb-client-go v2 library for three
// measurements:
//   - dispatch: one point per command outcome (result, attempts, latency)
//   - device_status: numeric/boolean device parameters after refreshes
//   - discovery: discovery pass summaries
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off, engine runs without it
//	}
//	defer client.Close()
//
//	client.WriteDispatchOutcome("bf1234", "turn_on", true, "", 1, elapsed)
//
// # Error Handling
//
// Writes are non-blocking and batched; failures surface only through the
// SetOnError callback. The engine treats telemetry as best-effort and
// never fails a dispatch over it.
package influxdb

// Package config loads and validates tuyalink configuration.
//
// Configuration comes from a single YAML file with three layers of
// precedence:
//
//  1. Hardcoded defaults (defaultConfig)
//  2. YAML file values
//  3. TUYALINK_* environment variable overrides
//
// The device seed file (devices.json) is deliberately separate from this
// package: it is data, not configuration, and is parsed by the device
// package so that one malformed record never prevents the rest of the
// fleet from loading.
package config

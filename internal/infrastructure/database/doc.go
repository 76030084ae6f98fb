// Package database manages the SQLite connection for tuyalink.
//
// It owns connection setup (WAL mode, busy timeout, single-writer pool),
// embedded schema migrations, and health checks. Persistence here exists so
// discovered-pending devices and last observed status survive a restart;
// the devices.json seed file remains the sole source of credentials.
package database

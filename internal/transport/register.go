package transport

import (
	"fmt"
	"sync"
)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Adapter)
)

// Register makes a transport adapter available under the given name,
// following the database/sql driver convention: a concrete wire
// implementation registers itself from an init function and the main
// package selects it by name. Register panics on a duplicate name
// because two implementations claiming the same protocol is a build
// wiring mistake, not a runtime condition.
func Register(name string, adapter Adapter) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if adapter == nil {
		panic("transport: Register adapter is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("transport: Register called twice for driver " + name)
	}
	drivers[name] = adapter
}

// Driver returns the adapter registered under name.
func Driver(name string) (Adapter, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()

	adapter, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("transport: no driver registered for %q", name)
	}
	return adapter, nil
}

// Drivers returns the names of all registered adapters, for diagnostics.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	return names
}

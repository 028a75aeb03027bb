// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package driver

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Driver)
)

// Register adds a compiled-in driver under the given name. Driver packages
// call this from init or from the host's wiring code.
func Register(name string, d Driver) error {
	if name == "" {
		return fmt.Errorf("driver name is empty")
	}
	if d == nil {
		return fmt.Errorf("driver %q is nil", name)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		return fmt.Errorf("driver %q already registered", name)
	}

	registry[name] = d
	return nil
}

// Lookup retrieves a registered driver by name.
func Lookup(name string) (Driver, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	d, ok := registry[name]
	return d, ok
}

// Registered returns the names of all registered drivers, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetRegistry clears driver registrations. For tests.
func ResetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Driver)
}

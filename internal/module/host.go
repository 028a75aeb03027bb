// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package module

import (
	"context"

	"github.com/monisens/monisens/pkg/driver"
)

// Host runs drivers of a specific execution type that are not compiled into
// the host process.
type Host interface {
	// Load makes a driver available from its manifest and directory.
	Load(ctx context.Context, manifest *Manifest, dir string) (driver.Driver, error)

	// Unload tears down a loaded driver.
	Unload(ctx context.Context, name string) error

	// Close shuts down the host and all drivers it loaded.
	Close(ctx context.Context) error
}

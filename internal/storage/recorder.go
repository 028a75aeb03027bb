// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

// Package storage persists streamed sensor readings. The manager depends on
// the Recorder interface only; what sits behind it is a host deployment
// concern.
package storage

import (
	"context"

	"github.com/monisens/monisens/pkg/driver"
)

// Recorder persists sensor readings for one or more devices.
type Recorder interface {
	// EnsureSensorTables prepares storage for a device's discovered catalog.
	// Called once per device after sensor discovery, before streaming.
	EnsureSensorTables(ctx context.Context, deviceID int32, catalog []driver.SensorTypeInfo) error

	// Record persists one sensor reading.
	Record(ctx context.Context, deviceID int32, msg driver.SensorMessage) error

	// Close releases the underlying storage resources.
	Close()
}

// Discard is a Recorder that drops everything. Used when the host runs
// without a database.
type Discard struct{}

// EnsureSensorTables is a no-op.
func (Discard) EnsureSensorTables(context.Context, int32, []driver.SensorTypeInfo) error {
	return nil
}

// Record is a no-op.
func (Discard) Record(context.Context, int32, driver.SensorMessage) error { return nil }

// Close is a no-op.
func (Discard) Close() {}

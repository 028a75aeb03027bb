// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

// Package driver defines the contract between the MoniSens host and device
// driver implementations: the session lifecycle, the synchronous info-visitor
// protocol for structured discovery data, and the retained message sink used
// while a device is streaming.
package driver

import "context"

// ABIVersion is the contract revision this package defines. Drivers report
// the revision they were built against via Driver.Version; the host refuses
// drivers reporting a revision it does not understand.
const ABIVersion uint8 = 1

// Driver is the fixed set of entry points a driver exposes. One Driver value
// exists per loaded driver; it is immutable for the process lifetime.
type Driver interface {
	// Version reports the ABI revision the driver was built against.
	Version() uint8

	// Init creates the session state for one device. dataDir is a directory
	// reserved for the driver's private persistent data. Init must not fail
	// for recoverable reasons; an error from Init is fatal to the session.
	Init(ctx context.Context, dataDir string) (Handler, error)
}

// Handler is the opaque, driver-owned state of one device session. The host
// never inspects it; it only drives the lifecycle below, strictly in order
// and never concurrently:
//
//	Init → ConnInfo → Connect → ConfInfo → Configure → SensorTypeInfos
//	     → Start → Stop → Destroy
//
// A conforming Handler rejects out-of-order calls with CodeInvalidParams
// where a code exists and must never corrupt its own state doing so. The
// host, in turn, is responsible for never issuing an out-of-order call.
type Handler interface {
	// ConnInfo reports the schema of connection parameters the device needs.
	// The visitor is invoked synchronously, exactly once, before ConnInfo
	// returns. The slice and everything it references are valid only for
	// the duration of the visit; the consumer copies what it keeps.
	ConnInfo(ctx context.Context, visit ConnInfoFunc) error

	// Connect performs real I/O against the physical device using the given
	// connection parameters. Structurally invalid parameters are rejected
	// with CodeInvalidParams before any I/O; I/O-level failures return
	// CodeConnFailed and may be retried by the host.
	Connect(ctx context.Context, conf Conf) error

	// ConfInfo reports the device configuration schema. The schema may
	// depend on what Connect learned from the device, which is why it is
	// only available after Connect. Visitor scope rules match ConnInfo.
	ConfInfo(ctx context.Context, visit ConfInfoFunc) error

	// Configure applies a device configuration. Failure tiers match Connect.
	Configure(ctx context.Context, conf Conf) error

	// SensorTypeInfos reports the sensor catalog of the connected,
	// configured device. The visitor may be invoked once per sensor type or
	// once with the whole catalog; either way it is exhaustive and never
	// invoked after SensorTypeInfos returns. Called at most once per
	// session.
	SensorTypeInfos(ctx context.Context, visit SensorTypeInfoFunc) error

	// Start installs the message sink and begins streaming. From this point
	// the driver may invoke the sink from any goroutine it creates, until
	// Stop. The sink is a retained capability: the driver may hold it for
	// the whole running period but must not copy it anywhere it cannot
	// release during Stop.
	Start(ctx context.Context, sink MessageSink) error

	// Stop halts streaming. It is a synchronous shutdown barrier: when it
	// returns with nil, the driver guarantees every goroutine it created
	// has quiesced, no further sink invocation will occur, and all retained
	// references to the sink have been dropped.
	Stop(ctx context.Context) error

	// Destroy releases the Handler. Valid from any state; best-effort
	// cleanup that never fails observably. No operation may reference the
	// Handler afterward.
	Destroy()
}

// ConnInfoFunc consumes the connection parameter schema. Arguments are valid
// only for the duration of the call.
type ConnInfoFunc func(params []ParamInfo)

// ConfInfoFunc consumes the device configuration schema. Arguments are valid
// only for the duration of the call.
type ConfInfoFunc func(params []ParamInfo)

// SensorTypeInfoFunc consumes part of the sensor catalog. Arguments are
// valid only for the duration of the call.
type SensorTypeInfoFunc func(infos []SensorTypeInfo)

// MessageSink is the dispatch capability installed by Handler.Start. Unlike
// the info visitors it is retained: it stays valid for the whole running
// period and is safe to invoke concurrently from any number of driver
// goroutines without external locking. After Stop returns, the driver must
// not invoke it again.
type MessageSink interface {
	Dispatch(msg Message)
}

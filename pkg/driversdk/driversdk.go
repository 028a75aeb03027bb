// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

// Package driversdk is the SDK for building binary drivers. Driver authors
// implement driver.Driver and hand it to Serve from their main function;
// the host loads the resulting executable with HashiCorp's go-plugin system
// over net/rpc. The in-process contract is preserved at both ends: info
// visitors collapse to value returns on the wire and are re-expanded to
// synchronous visitor calls host-side, and the message sink is carried
// plugin to host over the go-plugin broker.
package driversdk

import (
	"encoding/gob"

	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/monisens/monisens/pkg/driver"
)

// HandshakeConfig is the go-plugin handshake configuration. Both host and
// driver binaries must use the same values; ProtocolVersion tracks the
// driver ABI revision.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  uint(driver.ABIVersion),
	MagicCookieKey:   "MONISENS_DRIVER",
	MagicCookieValue: "monisens-v1",
}

// PluginMap is the dispense map shared by host and driver binaries.
var PluginMap = map[string]hashiplug.Plugin{
	"driver": &driverPlugin{},
}

// Concrete types that travel inside interface-typed fields must be known to
// gob on both sides of the connection.
func init() {
	gob.Register(driver.SensorMessage{})
	gob.Register(driver.CommonMessage{})

	// Conf values and sensor values.
	gob.Register(int16(0))
	gob.Register(int32(0))
	gob.Register(int64(0))
	gob.Register(float32(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register([2]int32{})
	gob.Register([2]float64{})
}

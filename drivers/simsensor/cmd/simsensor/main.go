// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

// Command simsensor runs the simulated sensor driver as a standalone driver
// process for the MoniSens host.
package main

import (
	"github.com/monisens/monisens/drivers/simsensor"
	"github.com/monisens/monisens/pkg/driversdk"
)

func main() {
	driversdk.Serve(simsensor.New())
}

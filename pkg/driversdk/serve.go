// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package driversdk

import (
	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/monisens/monisens/pkg/driver"
)

// Serve runs drv as a driver process. Call it from a driver binary's main
// function; it blocks until the host kills the process.
func Serve(drv driver.Driver) {
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			"driver": &driverPlugin{drv: drv},
		},
	})
}

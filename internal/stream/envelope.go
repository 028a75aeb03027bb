// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

// Package stream fans device messages out from running driver sessions to
// host-side consumers.
package stream

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/monisens/monisens/pkg/driver"
)

// Envelope wraps one driver message with host-side identity. Message order
// within a stream follows dispatch order, not necessarily reading order; the
// contract does not guarantee in-order delivery from the device.
type Envelope struct {
	ID       ulid.ULID
	Stream   string // e.g. "device:3"
	Received time.Time
	Msg      driver.Message
}

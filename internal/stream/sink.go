// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package stream

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/monisens/monisens/pkg/driver"
)

// Sink is the host-owned dispatch capability handed to a driver's Start. It
// is safe to invoke from any number of driver goroutines. The driver treats
// it as opaque; only the host closes it.
type Sink struct {
	hub        *Hub
	stream     string
	closed     atomic.Bool
	onDispatch func(stream string, msg driver.Message)
}

var _ driver.MessageSink = (*Sink)(nil)

// NewSink creates a sink publishing to one stream of the hub. onDispatch,
// when non-nil, is called once per delivered message.
func NewSink(hub *Hub, stream string, onDispatch func(stream string, msg driver.Message)) *Sink {
	return &Sink{hub: hub, stream: stream, onDispatch: onDispatch}
}

// Dispatch publishes one driver message. After Close it becomes a logged
// no-op: a dispatch arriving then is a driver contract violation (the driver
// promised quiescence when Stop returned) and must not reach consumers.
func (s *Sink) Dispatch(msg driver.Message) {
	if s.closed.Load() {
		slog.Warn("driver dispatched message after stop; dropped",
			"stream", s.stream)
		return
	}

	env := Envelope{
		ID:       NewULID(),
		Stream:   s.stream,
		Received: time.Now(),
		Msg:      msg,
	}
	s.hub.Broadcast(env)

	if s.onDispatch != nil {
		s.onDispatch(s.stream, msg)
	}
}

// Close invalidates the sink. Called by the host after the driver's Stop has
// returned.
func (s *Sink) Close() {
	s.closed.Store(true)
}

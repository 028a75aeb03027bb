// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package module

import (
	"context"
	"log/slog"
	"sync"

	"github.com/monisens/monisens/internal/stream"
	"github.com/monisens/monisens/pkg/driver"
)

// State is the host-side view of one driver session's lifecycle position.
type State uint8

// Session states. Uninitialized is implicit: no session exists before Init.
const (
	StateInitialized State = iota + 1
	StateConnected
	StateConfigured
	StateRunning
	StateStopped
	// StateFailed marks a session whose Stop reported failure. Fatal: only
	// Destroy remains legal.
	StateFailed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateConnected:
		return "connected"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Session enforces the lifecycle ordering around one driver.Handler. All
// operations are serialized by the session mutex, which is held across the
// underlying driver call: the contract forbids concurrent lifecycle calls on
// one Handler, and the mutex is the caller-side guarantee of that. An
// operation invoked from the wrong state is rejected with CodeInvalidParams
// before the driver sees it.
type Session struct {
	mu          sync.Mutex
	state       State
	handler     driver.Handler
	sink        *stream.Sink
	catalogRead bool
	onState     func(from, to State)
}

// NewSession wraps a freshly initialized handler. onState, when non-nil, is
// notified of every state transition (used for metrics).
func NewSession(h driver.Handler, onState func(from, to State)) *Session {
	return &Session{state: StateInitialized, handler: h, onState: onState}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State) {
	from := s.state
	s.state = to
	if s.onState != nil {
		s.onState(from, to)
	}
}

func (s *Session) require(op string, want State) error {
	if s.state != want {
		return driver.InvalidParamsf("%s is invalid in state %s (requires %s)",
			op, s.state, want)
	}
	return nil
}

// ConnInfo obtains the connection parameter schema. No transition.
func (s *Session) ConnInfo(ctx context.Context, visit driver.ConnInfoFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("conn_info", StateInitialized); err != nil {
		return err
	}
	return s.handler.ConnInfo(ctx, visit)
}

// Connect attempts the device connection. On success the session advances to
// Connected; on any failure it stays Initialized, permitting a corrected or
// retried attempt.
func (s *Session) Connect(ctx context.Context, conf driver.Conf) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("connect", StateInitialized); err != nil {
		return err
	}
	if err := s.handler.Connect(ctx, conf); err != nil {
		return err
	}
	s.transition(StateConnected)
	return nil
}

// ConfInfo obtains the device configuration schema. No transition.
func (s *Session) ConfInfo(ctx context.Context, visit driver.ConfInfoFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("conf_info", StateConnected); err != nil {
		return err
	}
	return s.handler.ConfInfo(ctx, visit)
}

// Configure applies a device configuration, advancing to Configured.
func (s *Session) Configure(ctx context.Context, conf driver.Conf) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("configure", StateConnected); err != nil {
		return err
	}
	if err := s.handler.Configure(ctx, conf); err != nil {
		return err
	}
	s.transition(StateConfigured)
	return nil
}

// SensorTypeInfos obtains the sensor catalog. No transition. At most one
// call per session: the contract does not promise the catalog is re-probable.
func (s *Session) SensorTypeInfos(ctx context.Context, visit driver.SensorTypeInfoFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("sensor_type_infos", StateConfigured); err != nil {
		return err
	}
	if s.catalogRead {
		return driver.InvalidParamsf("sensor_type_infos already obtained for this session")
	}
	if err := s.handler.SensorTypeInfos(ctx, visit); err != nil {
		return err
	}
	s.catalogRead = true
	return nil
}

// Start installs the sink and enters Running. The sink is retained by the
// session so Stop can invalidate it.
func (s *Session) Start(ctx context.Context, sink *stream.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("start", StateConfigured); err != nil {
		return err
	}
	if err := s.handler.Start(ctx, sink); err != nil {
		return err
	}
	s.sink = sink
	s.transition(StateRunning)
	return nil
}

// Stop halts streaming. When the driver's Stop returns cleanly the sink is
// invalidated, so even a contract-violating late dispatch cannot reach
// consumers. A Stop failure is fatal for the session.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("stop", StateRunning); err != nil {
		return err
	}

	err := s.handler.Stop(ctx)
	if s.sink != nil {
		s.sink.Close()
		s.sink = nil
	}
	if err != nil {
		s.transition(StateFailed)
		return err
	}
	s.transition(StateStopped)
	return nil
}

// Destroy releases the handler. Valid from any state except Destroyed; a
// repeat call is a no-op so a cooperating host cannot double-free. A session
// still Running is stopped best-effort first.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDestroyed {
		slog.Warn("destroy called on already destroyed session")
		return
	}

	if s.state == StateRunning {
		// Callers should stop first; tolerate the skip.
		if err := s.handler.Stop(context.Background()); err != nil {
			slog.Warn("driver stop during destroy failed", "error", err)
		}
	}
	if s.sink != nil {
		s.sink.Close()
		s.sink = nil
	}

	s.handler.Destroy()
	s.transition(StateDestroyed)
}

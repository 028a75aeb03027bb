// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

// Package drivertest verifies that a driver implementation conforms to the
// driver contract. Driver authors call Run from their own tests with a
// factory and known-good parameter values; the harness walks the lifecycle
// and checks ordering, callback scoping, and the stop barrier.
package drivertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monisens/monisens/pkg/driver"
)

// Config describes how to drive one driver implementation through the
// conformance harness.
type Config struct {
	// NewDriver returns a fresh driver value. Called once per subtest so
	// state cannot leak between checks.
	NewDriver func() driver.Driver

	// ConnConf is a set of connection parameters the driver accepts.
	ConnConf driver.Conf

	// BadConnConf is a set of connection parameters the driver rejects
	// with CodeInvalidParams. Leave nil to skip the rejection check.
	BadConnConf driver.Conf

	// ConfConf is a device configuration the driver accepts.
	ConfConf driver.Conf

	// StreamWait bounds how long the harness waits for the first streamed
	// message after Start. Defaults to 5 seconds.
	StreamWait time.Duration

	// QuietWait is the window after Stop during which any dispatch is a
	// contract violation. Defaults to 250 milliseconds.
	QuietWait time.Duration
}

func (c *Config) streamWait() time.Duration {
	if c.StreamWait > 0 {
		return c.StreamWait
	}
	return 5 * time.Second
}

func (c *Config) quietWait() time.Duration {
	if c.QuietWait > 0 {
		return c.QuietWait
	}
	return 250 * time.Millisecond
}

// Run executes the full conformance suite against the configured driver.
func Run(t *testing.T, cfg Config) {
	t.Helper()
	require.NotNil(t, cfg.NewDriver, "NewDriver is required")

	t.Run("ReportsSupportedVersion", func(t *testing.T) {
		drv := cfg.NewDriver()
		assert.Equal(t, driver.ABIVersion, drv.Version())
	})

	t.Run("LifecycleRoundTrip", func(t *testing.T) { runRoundTrip(t, cfg) })
	t.Run("RejectsOutOfOrderCalls", func(t *testing.T) { runOutOfOrder(t, cfg) })
	t.Run("CatalogDelivery", func(t *testing.T) { runCatalogDelivery(t, cfg) })
	t.Run("StopBarrier", func(t *testing.T) { runStopBarrier(t, cfg) })
	t.Run("DestroyFromEveryStage", func(t *testing.T) { runDestroyStages(t, cfg) })

	if cfg.BadConnConf != nil {
		t.Run("RejectsMalformedConnect", func(t *testing.T) { runBadConnect(t, cfg) })
	}
}

// recordSink counts and retains every dispatched message.
type recordSink struct {
	mu   sync.Mutex
	msgs []driver.Message
}

func (s *recordSink) Dispatch(msg driver.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *recordSink) sensorMessages() []driver.SensorMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []driver.SensorMessage
	for _, m := range s.msgs {
		if sm, ok := m.(driver.SensorMessage); ok {
			out = append(out, sm)
		}
	}
	return out
}

func newHandler(t *testing.T, cfg Config) driver.Handler {
	t.Helper()
	h, err := cfg.NewDriver().Init(context.Background(), t.TempDir())
	require.NoError(t, err, "Init must not fail for a conforming driver")
	require.NotNil(t, h)
	return h
}

// advance walks the handler up to and including the named operation.
func advance(t *testing.T, cfg Config, h driver.Handler, upTo string) {
	t.Helper()
	ctx := context.Background()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"conn_info", func() error { return h.ConnInfo(ctx, func([]driver.ParamInfo) {}) }},
		{"connect", func() error { return h.Connect(ctx, cfg.ConnConf) }},
		{"conf_info", func() error { return h.ConfInfo(ctx, func([]driver.ParamInfo) {}) }},
		{"configure", func() error { return h.Configure(ctx, cfg.ConfConf) }},
		{"sensor_type_infos", func() error { return h.SensorTypeInfos(ctx, func([]driver.SensorTypeInfo) {}) }},
	}

	for _, step := range steps {
		require.NoError(t, step.fn(), "%s must succeed on the valid path", step.name)
		if step.name == upTo {
			return
		}
	}
	t.Fatalf("unknown lifecycle step %q", upTo)
}

func runRoundTrip(t *testing.T, cfg Config) {
	ctx := context.Background()
	h := newHandler(t, cfg)

	var connParams []driver.ParamInfo
	require.NoError(t, h.ConnInfo(ctx, func(params []driver.ParamInfo) {
		connParams = driver.CloneParams(params)
	}))
	assert.NotEmpty(t, connParams, "connection schema must not be empty")

	require.NoError(t, h.Connect(ctx, cfg.ConnConf))
	require.NoError(t, h.ConfInfo(ctx, func([]driver.ParamInfo) {}))
	require.NoError(t, h.Configure(ctx, cfg.ConfConf))

	var catalog []driver.SensorTypeInfo
	require.NoError(t, h.SensorTypeInfos(ctx, func(infos []driver.SensorTypeInfo) {
		catalog = append(catalog, driver.CloneCatalog(infos)...)
	}))
	require.NotEmpty(t, catalog, "catalog must name at least one sensor type")
	for _, info := range catalog {
		assert.NotEmpty(t, info.Name)
	}

	sink := &recordSink{}
	require.NoError(t, h.Start(ctx, sink))

	deadline := time.Now().Add(cfg.streamWait())
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.NotZero(t, sink.count(), "driver must stream at least one message while running")

	for _, sm := range sink.sensorMessages() {
		assert.NotEmpty(t, sm.Sensor, "sensor messages must name their sensor")
	}

	require.NoError(t, h.Stop(ctx))
	h.Destroy()
}

func runOutOfOrder(t *testing.T, cfg Config) {
	ctx := context.Background()

	cases := []struct {
		name string
		upTo string // empty means freshly initialized
		call func(h driver.Handler) error
	}{
		{
			name: "configure before connect",
			call: func(h driver.Handler) error { return h.Configure(ctx, cfg.ConfConf) },
		},
		{
			name: "conf_info before connect",
			call: func(h driver.Handler) error { return h.ConfInfo(ctx, func([]driver.ParamInfo) {}) },
		},
		{
			name: "start before configure",
			upTo: "connect",
			call: func(h driver.Handler) error { return h.Start(ctx, &recordSink{}) },
		},
		{
			name: "stop before start",
			upTo: "configure",
			call: func(h driver.Handler) error { return h.Stop(ctx) },
		},
		{
			name: "connect twice",
			upTo: "connect",
			call: func(h driver.Handler) error { return h.Connect(ctx, cfg.ConnConf) },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHandler(t, cfg)
			defer h.Destroy()
			if tc.upTo != "" {
				advance(t, cfg, h, tc.upTo)
			}

			err := tc.call(h)
			require.Error(t, err)
			assert.Equal(t, driver.CodeInvalidParams, driver.CodeOf(err))

			// State must be unchanged: the valid next step still works.
			switch tc.upTo {
			case "":
				assert.NoError(t, h.Connect(ctx, cfg.ConnConf))
			case "connect":
				assert.NoError(t, h.Configure(ctx, cfg.ConfConf))
			case "configure":
				assert.NoError(t, h.Start(ctx, &recordSink{}))
				assert.NoError(t, h.Stop(ctx))
			}
		})
	}
}

func runCatalogDelivery(t *testing.T, cfg Config) {
	ctx := context.Background()
	h := newHandler(t, cfg)
	defer h.Destroy()
	advance(t, cfg, h, "configure")

	calls := 0
	total := 0
	err := h.SensorTypeInfos(ctx, func(infos []driver.SensorTypeInfo) {
		calls++
		total += len(infos)
	})
	require.NoError(t, err)

	assert.NotZero(t, calls, "visitor must be invoked when the operation succeeds")
	assert.NotZero(t, total, "catalog must not be empty")
}

func runStopBarrier(t *testing.T, cfg Config) {
	ctx := context.Background()
	h := newHandler(t, cfg)
	defer h.Destroy()
	advance(t, cfg, h, "sensor_type_infos")

	sink := &recordSink{}
	require.NoError(t, h.Start(ctx, sink))

	deadline := time.Now().Add(cfg.streamWait())
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.NotZero(t, sink.count(), "driver must emit before the barrier check is meaningful")

	require.NoError(t, h.Stop(ctx))
	atStop := sink.count()

	time.Sleep(cfg.quietWait())
	assert.Equal(t, atStop, sink.count(),
		"no dispatch may arrive after Stop returns")
}

func runDestroyStages(t *testing.T, cfg Config) {
	stages := []string{"", "connect", "configure", "sensor_type_infos"}

	for _, upTo := range stages {
		name := upTo
		if name == "" {
			name = "initialized"
		}
		t.Run(name, func(t *testing.T) {
			h := newHandler(t, cfg)
			if upTo != "" {
				advance(t, cfg, h, upTo)
			}
			h.Destroy()
		})
	}

	t.Run("stopped", func(t *testing.T) {
		ctx := context.Background()
		h := newHandler(t, cfg)
		advance(t, cfg, h, "sensor_type_infos")
		require.NoError(t, h.Start(ctx, &recordSink{}))
		require.NoError(t, h.Stop(ctx))
		h.Destroy()
	})
}

func runBadConnect(t *testing.T, cfg Config) {
	ctx := context.Background()
	h := newHandler(t, cfg)
	defer h.Destroy()

	err := h.Connect(ctx, cfg.BadConnConf)
	require.Error(t, err)
	assert.Equal(t, driver.CodeInvalidParams, driver.CodeOf(err))

	// The session stays in its initialized state and a corrected retry
	// succeeds.
	require.NoError(t, h.Connect(ctx, cfg.ConnConf))
}

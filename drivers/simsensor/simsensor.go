// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

// Package simsensor implements a simulated sensor device driver. It speaks
// the full driver contract against an in-memory device and is used both as
// the default builtin driver and as the conformance reference for the
// drivertest harness.
package simsensor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/monisens/monisens/pkg/driver"
)

// Name is the registry name of the builtin simsensor driver.
const Name = "simsensor"

// Connection parameter IDs.
const (
	ParamAddr int32 = 1
	ParamMode int32 = 2
)

// Configuration parameter IDs.
const (
	ParamInterval int32 = 10
	ParamProfile  int32 = 11
)

// Mode choice indices for ParamMode.
const (
	ModeStable int32 = 0
	ModeFlaky  int32 = 1
)

// Profile choice indices for ParamProfile.
const (
	ProfileSteady int32 = 0
	ProfileBursty int32 = 1
)

// defaultInterval is used when the configuration leaves ParamInterval unset.
const defaultInterval = 1000 * time.Millisecond

// Option configures failure injection on a simsensor driver.
type Option func(*Driver)

// WithConnectFailures makes the first n Connect attempts fail with a
// retryable status, regardless of parameters.
func WithConnectFailures(n int) Option {
	return func(d *Driver) { d.connectFailures = n }
}

// WithConfigureRejected makes every Configure attempt fail with an invalid
// parameters status.
func WithConfigureRejected() Option {
	return func(d *Driver) { d.rejectConfigure = true }
}

// WithStopError makes Stop report the given error after quiescing.
func WithStopError(err error) Option {
	return func(d *Driver) { d.stopErr = err }
}

// Driver is the simsensor entry point. One value serves any number of
// device sessions.
type Driver struct {
	mu              sync.Mutex
	connectFailures int
	rejectConfigure bool
	stopErr         error
}

var _ driver.Driver = (*Driver)(nil)

// New creates a simsensor driver.
func New(opts ...Option) *Driver {
	d := &Driver{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Version reports the contract revision this driver was built against.
func (d *Driver) Version() uint8 { return driver.ABIVersion }

// Init creates a session for one simulated device.
func (d *Driver) Init(_ context.Context, dataDir string) (driver.Handler, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &handler{drv: d, dataDir: dataDir, interval: defaultInterval}, nil
}

// Session stages, advanced strictly in lifecycle order.
type stage uint8

const (
	stageInitialized stage = iota
	stageConnected
	stageConfigured
	stageRunning
	stageStopped
	stageDestroyed
)

// handler is the session state of one simulated device.
type handler struct {
	drv     *Driver
	dataDir string

	mu       sync.Mutex
	stage    stage
	mode     int32
	profile  int32
	interval time.Duration

	sink driver.MessageSink
	stop chan struct{}
	wg   sync.WaitGroup
}

var _ driver.Handler = (*handler)(nil)

func (h *handler) require(op string, want stage) error {
	if h.stage != want {
		return driver.InvalidParamsf("%s is not valid in the current session state", op)
	}
	return nil
}

// ConnInfo reports the connection parameter schema.
func (h *handler) ConnInfo(_ context.Context, visit driver.ConnInfoFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.require("conn_info", stageInitialized); err != nil {
		return err
	}

	visit([]driver.ParamInfo{
		{
			ID:   ParamAddr,
			Name: "addr",
			Kind: driver.ParamString,
			String: &driver.StringParam{
				Required:   true,
				MatchRegex: `^sim://`,
			},
		},
		{
			ID:   ParamMode,
			Name: "mode",
			Kind: driver.ParamChoiceList,
			ChoiceList: &driver.ChoiceListParam{
				Default: ptr(ModeStable),
				Choices: []string{"stable", "flaky"},
			},
		},
	})
	return nil
}

// Connect attaches to the simulated device at the given address.
func (h *handler) Connect(_ context.Context, conf driver.Conf) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.require("connect", stageInitialized); err != nil {
		return err
	}

	addr, ok := conf.GetString(ParamAddr)
	if !ok || addr == "" {
		return driver.InvalidParamsf("addr is required")
	}
	if len(addr) < 7 || addr[:6] != "sim://" {
		return driver.InvalidParamsf("addr %q is not a sim:// address", addr)
	}

	h.drv.mu.Lock()
	inject := h.drv.connectFailures > 0
	if inject {
		h.drv.connectFailures--
	}
	h.drv.mu.Unlock()
	if inject {
		return driver.ConnFailedf("device at %s is not responding", addr)
	}

	if mode, ok := conf.GetInt(ParamMode); ok {
		h.mode = mode
	}
	h.stage = stageConnected
	return nil
}

// ConfInfo reports the configuration schema of the connected device.
func (h *handler) ConfInfo(_ context.Context, visit driver.ConfInfoFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.require("conf_info", stageConnected); err != nil {
		return err
	}

	visit([]driver.ParamInfo{
		{
			Name: "sampling",
			Kind: driver.ParamSection,
			Section: []driver.ParamInfo{
				{
					ID:   ParamInterval,
					Name: "interval_ms",
					Kind: driver.ParamInt,
					Int: &driver.IntParam{
						Default: ptr(int32(defaultInterval / time.Millisecond)),
						GT:      ptr(int32(0)),
					},
				},
				{
					ID:   ParamProfile,
					Name: "profile",
					Kind: driver.ParamChoiceList,
					ChoiceList: &driver.ChoiceListParam{
						Default: ptr(ProfileSteady),
						Choices: []string{"steady", "bursty"},
					},
				},
			},
		},
	})
	return nil
}

// Configure applies the sampling configuration.
func (h *handler) Configure(_ context.Context, conf driver.Conf) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.require("configure", stageConnected); err != nil {
		return err
	}

	if h.drv.rejectConfigure {
		return driver.InvalidParamsf("configuration rejected")
	}

	if ms, ok := conf.GetInt(ParamInterval); ok {
		if ms <= 0 {
			return driver.InvalidParamsf("interval_ms must be positive, got %d", ms)
		}
		h.interval = time.Duration(ms) * time.Millisecond
	}
	if profile, ok := conf.GetInt(ParamProfile); ok {
		if profile != ProfileSteady && profile != ProfileBursty {
			return driver.InvalidParamsf("profile index %d is out of range", profile)
		}
		h.profile = profile
	}

	h.stage = stageConfigured
	return nil
}

// SensorTypeInfos reports the catalog of the simulated device.
func (h *handler) SensorTypeInfos(_ context.Context, visit driver.SensorTypeInfoFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.require("sensor_type_infos", stageConfigured); err != nil {
		return err
	}

	// One call per sensor type; consumers must tolerate both delivery
	// shapes the contract allows.
	visit([]driver.SensorTypeInfo{{
		Name: "temperature",
		Fields: []driver.DataField{
			{Name: "measured_at", Type: driver.TypeTimestamp},
			{Name: "celsius", Type: driver.TypeFloat64},
		},
	}})
	visit([]driver.SensorTypeInfo{{
		Name: "heartbeat",
		Fields: []driver.DataField{
			{Name: "measured_at", Type: driver.TypeTimestamp},
			{Name: "count", Type: driver.TypeInt64},
		},
	}})
	return nil
}

// Start spawns one emitter goroutine per sensor.
func (h *handler) Start(_ context.Context, sink driver.MessageSink) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.require("start", stageConfigured); err != nil {
		return err
	}

	h.sink = sink
	h.stop = make(chan struct{})

	h.wg.Add(2)
	go h.emitTemperature(sink, h.stop, h.interval, h.mode, h.profile)
	go h.emitHeartbeat(sink, h.stop, h.interval)

	h.stage = stageRunning
	return nil
}

// Stop quiesces every emitter and drops the sink before returning.
func (h *handler) Stop(_ context.Context) error {
	h.mu.Lock()
	if err := h.require("stop", stageRunning); err != nil {
		h.mu.Unlock()
		return err
	}
	stop := h.stop
	h.mu.Unlock()

	close(stop)
	h.wg.Wait()

	h.mu.Lock()
	h.sink = nil
	h.stop = nil
	h.stage = stageStopped
	h.mu.Unlock()

	return h.drv.stopErr
}

// Destroy releases the session from any state.
func (h *handler) Destroy() {
	h.mu.Lock()
	if h.stage == stageDestroyed {
		h.mu.Unlock()
		return
	}
	running := h.stage == stageRunning
	stop := h.stop
	h.mu.Unlock()

	if running {
		close(stop)
		h.wg.Wait()
	}

	h.mu.Lock()
	h.sink = nil
	h.stop = nil
	h.stage = stageDestroyed
	h.mu.Unlock()
}

func (h *handler) emitTemperature(sink driver.MessageSink, stop <-chan struct{}, interval time.Duration, mode, profile int32) {
	defer h.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	celsius := 20.0
	step := 0.1
	n := 0
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			celsius += step
			if celsius > 25.0 || celsius < 15.0 {
				step = -step
			}
			burst := 1
			if profile == ProfileBursty {
				burst = 3
			}
			for i := 0; i < burst; i++ {
				sink.Dispatch(driver.SensorMessage{
					Sensor: "temperature",
					Values: []driver.SensorValue{
						{Name: "measured_at", Type: driver.TypeTimestamp, Value: now.UnixMilli()},
						{Name: "celsius", Type: driver.TypeFloat64, Value: celsius},
					},
				})
			}
			n++
			if mode == ModeFlaky && n%10 == 0 {
				sink.Dispatch(driver.CommonMessage{
					Code: driver.MsgWarn,
					Text: "simulated sensor glitch, reading may be stale",
				})
			}
		}
	}
}

func (h *handler) emitHeartbeat(sink driver.MessageSink, stop <-chan struct{}, interval time.Duration) {
	defer h.wg.Done()

	ticker := time.NewTicker(interval * 5)
	defer ticker.Stop()

	var count int64
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			count++
			sink.Dispatch(driver.SensorMessage{
				Sensor: "heartbeat",
				Values: []driver.SensorValue{
					{Name: "measured_at", Type: driver.TypeTimestamp, Value: now.UnixMilli()},
					{Name: "count", Type: driver.TypeInt64, Value: count},
				},
			})
		}
	}
}

func ptr[T any](v T) *T { return &v }

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package module

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/monisens/monisens/internal/storage"
	"github.com/monisens/monisens/internal/stream"
	"github.com/monisens/monisens/pkg/driver"
)

// DeviceID identifies one registered device. IDs increase monotonically and
// are never reused within a host run.
type DeviceID int32

func (id DeviceID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Stream is the hub stream name carrying this device's messages.
func (id DeviceID) Stream() string {
	return "device:" + id.String()
}

// ParseDeviceStream extracts the device ID from a hub stream name.
func ParseDeviceStream(s string) (DeviceID, bool) {
	raw, ok := strings.CutPrefix(s, "device:")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return DeviceID(n), true
}

// DeviceInfo is a read-only snapshot of one device for listings.
type DeviceInfo struct {
	ID     DeviceID
	Name   string
	Driver string
	State  State
}

// device is one registered device and its driver session.
type device struct {
	id         DeviceID
	name       string
	driverName string
	session    *Session
	deviceDir  string

	// Schemas cached from the info visitors; deep copies, host-owned.
	connSchema []driver.ParamInfo
	confSchema []driver.ParamInfo
	catalog    []driver.SensorTypeInfo
}

// DiscoveredDriver contains a manifest and its directory.
type DiscoveredDriver struct {
	Manifest *Manifest
	Dir      string
}

// Manager is the host-side orchestrator: it discovers installed drivers,
// owns one Session per device, validates what drivers report, and records
// streamed readings. Lifecycle calls for one device are serialized by its
// Session; different devices advance independently.
type Manager struct {
	driversDir string
	dataDir    string
	hub        *stream.Hub
	recorder   storage.Recorder
	binaryHost Host

	onDispatch     func(stream string, msg driver.Message)
	onState        func(from, to State)
	onRetry        func()
	onFailure      func(stage string, code driver.Code)
	onRecord       func(status string)
	connectRetries uint64

	mu      sync.RWMutex
	lastID  DeviceID
	devices map[DeviceID]*device
	drivers map[string]*DiscoveredDriver

	recordCh <-chan stream.Envelope
	wg       sync.WaitGroup
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithBinaryHost sets the host used to run binary drivers.
func WithBinaryHost(h Host) ManagerOption {
	return func(m *Manager) {
		m.binaryHost = h
	}
}

// WithRecorder sets the sensor reading recorder.
func WithRecorder(r storage.Recorder) ManagerOption {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithDispatchFunc installs a per-message hook, used to feed metrics.
func WithDispatchFunc(fn func(stream string, msg driver.Message)) ManagerOption {
	return func(m *Manager) {
		m.onDispatch = fn
	}
}

// WithStateFunc installs a session state transition hook.
func WithStateFunc(fn func(from, to State)) ManagerOption {
	return func(m *Manager) {
		m.onState = fn
	}
}

// WithRetryFunc installs a hook called each time a transient connect or
// configure failure is about to be retried.
func WithRetryFunc(fn func()) ManagerOption {
	return func(m *Manager) {
		m.onRetry = fn
	}
}

// WithFailureFunc installs a hook called when a lifecycle stage fails after
// retries are exhausted.
func WithFailureFunc(fn func(stage string, code driver.Code)) ManagerOption {
	return func(m *Manager) {
		m.onFailure = fn
	}
}

// WithRecordFunc installs a hook called after each recorder write with
// "ok" or "error".
func WithRecordFunc(fn func(status string)) ManagerOption {
	return func(m *Manager) {
		m.onRecord = fn
	}
}

// WithConnectRetries sets how many times a transient connect or configure
// failure is retried before being surfaced.
func WithConnectRetries(n uint64) ManagerOption {
	return func(m *Manager) {
		m.connectRetries = n
	}
}

// defaultConnectRetries bounds retries of CodeConnFailed operations.
const defaultConnectRetries = 3

// NewManager creates a device manager.
func NewManager(driversDir, dataDir string, hub *stream.Hub, opts ...ManagerOption) *Manager {
	m := &Manager{
		driversDir:     driversDir,
		dataDir:        dataDir,
		hub:            hub,
		recorder:       storage.Discard{},
		connectRetries: defaultConnectRetries,
		devices:        make(map[DeviceID]*device),
		drivers:        make(map[string]*DiscoveredDriver),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Discover finds all valid drivers in the drivers directory. Invalid drivers
// are logged and skipped.
func (m *Manager) Discover(_ context.Context) ([]*DiscoveredDriver, error) {
	entries, err := os.ReadDir(m.driversDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No drivers directory
		}
		return nil, oops.With("dir", m.driversDir).Wrapf(err, "failed to read drivers directory")
	}

	var drivers []*DiscoveredDriver
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		driverDir := filepath.Join(m.driversDir, entry.Name())
		manifestPath := filepath.Join(driverDir, "driver.yaml")

		data, err := os.ReadFile(manifestPath) //nolint:gosec // manifestPath is constructed from ReadDir entries
		if err != nil {
			slog.Warn("skipping driver without manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		if err := ValidateSchema(data); err != nil {
			slog.Warn("skipping driver with schema-invalid manifest",
				"dir", entry.Name(),
				"error", FormatSchemaError(err))
			continue
		}

		manifest, err := ParseManifest(data)
		if err != nil {
			slog.Warn("skipping driver with invalid manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		drivers = append(drivers, &DiscoveredDriver{
			Manifest: manifest,
			Dir:      driverDir,
		})
	}

	return drivers, nil
}

// LoadAll discovers and registers all drivers in the drivers directory.
// Individual driver failures are logged as warnings but don't fail the whole
// load, so the host starts even when some installed drivers have issues.
func (m *Manager) LoadAll(ctx context.Context) error {
	discovered, err := m.Discover(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, dd := range discovered {
		if _, dup := m.drivers[dd.Manifest.Name]; dup {
			slog.Warn("skipping duplicate driver name",
				"driver", dd.Manifest.Name,
				"dir", dd.Dir)
			continue
		}
		m.drivers[dd.Manifest.Name] = dd
		slog.Info("registered driver",
			"driver", dd.Manifest.Name,
			"type", dd.Manifest.Type,
			"version", dd.Manifest.Version)
	}

	return nil
}

// Drivers returns names of all registered drivers, sorted.
func (m *Manager) Drivers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.drivers))
	for name := range m.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolve turns a registered driver name into a usable driver.Driver and
// refuses drivers reporting an ABI revision the host does not speak.
func (m *Manager) resolve(ctx context.Context, name string) (driver.Driver, error) {
	m.mu.RLock()
	dd, ok := m.drivers[name]
	m.mu.RUnlock()
	if !ok {
		return nil, oops.Code("driver_unknown").With("driver", name).
			Errorf("driver %q is not registered", name)
	}

	var (
		drv driver.Driver
		err error
	)
	switch dd.Manifest.Type {
	case TypeBuiltin:
		var found bool
		drv, found = driver.Lookup(dd.Manifest.Builtin.Driver)
		if !found {
			return nil, oops.Code("driver_unknown").With("driver", name).
				Errorf("builtin driver %q is not compiled into this host", dd.Manifest.Builtin.Driver)
		}
	case TypeBinary:
		if m.binaryHost == nil {
			return nil, oops.Code("driver_unsupported").With("driver", name).
				Errorf("no binary driver host configured")
		}
		drv, err = m.binaryHost.Load(ctx, dd.Manifest, dd.Dir)
		if err != nil {
			return nil, oops.With("driver", name).Wrap(err)
		}
	default:
		return nil, oops.Code("driver_unsupported").With("driver", name).
			Errorf("unknown driver type %q", dd.Manifest.Type)
	}

	if v := drv.Version(); v != driver.ABIVersion {
		return nil, oops.Code("abi_mismatch").
			With("driver", name).With("driver_abi", v).With("host_abi", driver.ABIVersion).
			Errorf("driver %q speaks ABI %d, host speaks %d", name, v, driver.ABIVersion)
	}

	return drv, nil
}

// AddDevice registers a device, lays out its data directories, and
// initializes a driver session for it. The created layout is
// <data>/device/<id>-<name>/{module,data}; the driver only ever sees the
// data subdirectory.
func (m *Manager) AddDevice(ctx context.Context, name, driverName string) (DeviceID, error) {
	if !ValidName(name) {
		return 0, oops.Code("device_name_invalid").With("name", name).
			Errorf("device name %q is not snake_case", name)
	}

	drv, err := m.resolve(ctx, driverName)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.lastID++
	id := m.lastID
	m.mu.Unlock()

	deviceDir := filepath.Join(m.dataDir, "device", fmt.Sprintf("%d-%s", id, name))
	dataDir := filepath.Join(deviceDir, "data")
	for _, dir := range []string{deviceDir, filepath.Join(deviceDir, "module"), dataDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return 0, oops.With("device", name).With("dir", dir).Wrapf(err, "failed to create device directory")
		}
	}

	handler, err := drv.Init(ctx, dataDir)
	if err != nil {
		// Init failure is fatal for the session, not recoverable.
		return 0, oops.Code("init_failed").With("device", name).With("driver", driverName).
			Wrapf(err, "driver init failed")
	}

	dev := &device{
		id:         id,
		name:       name,
		driverName: driverName,
		session:    NewSession(handler, m.onState),
		deviceDir:  deviceDir,
	}

	m.mu.Lock()
	m.devices[id] = dev
	m.mu.Unlock()

	slog.Info("device added", "device_id", id, "device", name, "driver", driverName)
	return id, nil
}

func (m *Manager) get(id DeviceID) (*device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dev, ok := m.devices[id]
	if !ok {
		return nil, oops.Code("device_unknown").With("device_id", id).
			Errorf("device %d was not found; most probably it was removed", id)
	}
	return dev, nil
}

// ConnInfo obtains and caches the device's connection parameter schema.
func (m *Manager) ConnInfo(ctx context.Context, id DeviceID) ([]driver.ParamInfo, error) {
	dev, err := m.get(id)
	if err != nil {
		return nil, err
	}

	var schema []driver.ParamInfo
	err = dev.session.ConnInfo(ctx, func(params []driver.ParamInfo) {
		schema = driver.CloneParams(params)
	})
	if err != nil {
		return nil, m.stageErr(id, "conn_info", err)
	}

	m.mu.Lock()
	dev.connSchema = schema
	m.mu.Unlock()
	return driver.CloneParams(schema), nil
}

// Connect drives the device connection. Host-side schema validation rejects
// structurally invalid parameters before the driver sees them; transient
// CodeConnFailed results are retried with exponential backoff.
func (m *Manager) Connect(ctx context.Context, id DeviceID, conf driver.Conf) error {
	dev, err := m.get(id)
	if err != nil {
		return err
	}

	m.mu.RLock()
	schema := dev.connSchema
	m.mu.RUnlock()
	if schema != nil {
		if err := CheckConf(schema, conf); err != nil {
			return err
		}
	}

	err = m.withRetry(ctx, func(ctx context.Context) error {
		return dev.session.Connect(ctx, conf)
	})
	if err != nil {
		return m.stageErr(id, "connect", err)
	}
	return nil
}

// ConfInfo obtains and caches the device configuration schema.
func (m *Manager) ConfInfo(ctx context.Context, id DeviceID) ([]driver.ParamInfo, error) {
	dev, err := m.get(id)
	if err != nil {
		return nil, err
	}

	var schema []driver.ParamInfo
	err = dev.session.ConfInfo(ctx, func(params []driver.ParamInfo) {
		schema = driver.CloneParams(params)
	})
	if err != nil {
		return nil, m.stageErr(id, "conf_info", err)
	}

	m.mu.Lock()
	dev.confSchema = schema
	m.mu.Unlock()
	return driver.CloneParams(schema), nil
}

// Configure applies a device configuration, with the same validation and
// retry policy as Connect.
func (m *Manager) Configure(ctx context.Context, id DeviceID, conf driver.Conf) error {
	dev, err := m.get(id)
	if err != nil {
		return err
	}

	m.mu.RLock()
	schema := dev.confSchema
	m.mu.RUnlock()
	if schema != nil {
		if err := CheckConf(schema, conf); err != nil {
			return err
		}
	}

	err = m.withRetry(ctx, func(ctx context.Context) error {
		return dev.session.Configure(ctx, conf)
	})
	if err != nil {
		return m.stageErr(id, "configure", err)
	}
	return nil
}

// SensorTypeInfos discovers the device's sensor catalog, applies host naming
// validation, and prepares storage for it. Naming violations surface as host
// errors, distinct from any driver status code.
func (m *Manager) SensorTypeInfos(ctx context.Context, id DeviceID) ([]driver.SensorTypeInfo, error) {
	dev, err := m.get(id)
	if err != nil {
		return nil, err
	}

	var catalog []driver.SensorTypeInfo
	err = dev.session.SensorTypeInfos(ctx, func(infos []driver.SensorTypeInfo) {
		catalog = append(catalog, driver.CloneCatalog(infos)...)
	})
	if err != nil {
		return nil, m.stageErr(id, "sensor_type_infos", err)
	}

	if err := ValidateCatalog(catalog); err != nil {
		return nil, oops.With("device_id", id).Wrap(err)
	}

	if err := m.recorder.EnsureSensorTables(ctx, int32(id), catalog); err != nil {
		return nil, oops.With("device_id", id).Wrap(err)
	}

	m.mu.Lock()
	dev.catalog = catalog
	m.mu.Unlock()
	return driver.CloneCatalog(catalog), nil
}

// Start begins streaming for the device.
func (m *Manager) Start(ctx context.Context, id DeviceID) error {
	dev, err := m.get(id)
	if err != nil {
		return err
	}

	sink := stream.NewSink(m.hub, id.Stream(), m.onDispatch)
	if err := dev.session.Start(ctx, sink); err != nil {
		return m.stageErr(id, "start", err)
	}

	slog.Info("device streaming", "device_id", id, "device", dev.name)
	return nil
}

// Stop halts streaming for the device. A nonzero stop result is fatal for
// the session: the manager surfaces it and leaves only Destroy legal.
func (m *Manager) Stop(ctx context.Context, id DeviceID) error {
	dev, err := m.get(id)
	if err != nil {
		return err
	}

	if err := dev.session.Stop(ctx); err != nil {
		return m.stageErr(id, "stop", err)
	}

	slog.Info("device stopped", "device_id", id, "device", dev.name)
	return nil
}

// RemoveDevice stops the device if needed, destroys its session, and deletes
// its data directories.
func (m *Manager) RemoveDevice(_ context.Context, id DeviceID) error {
	dev, err := m.get(id)
	if err != nil {
		return err
	}

	dev.session.Destroy()

	if err := os.RemoveAll(dev.deviceDir); err != nil {
		return oops.With("device_id", id).With("dir", dev.deviceDir).
			Wrapf(err, "failed to remove device directory")
	}

	m.mu.Lock()
	delete(m.devices, id)
	m.mu.Unlock()

	slog.Info("device removed", "device_id", id)
	return nil
}

// Devices returns snapshots of all registered devices, ordered by ID.
func (m *Manager) Devices() []DeviceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]DeviceInfo, 0, len(m.devices))
	for _, dev := range m.devices {
		infos = append(infos, DeviceInfo{
			ID:     dev.id,
			Name:   dev.name,
			Driver: dev.driverName,
			State:  dev.session.State(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Catalog returns the discovered sensor catalog of a device, or nil when
// discovery has not run.
func (m *Manager) Catalog(id DeviceID) []driver.SensorTypeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dev, ok := m.devices[id]
	if !ok {
		return nil
	}
	return driver.CloneCatalog(dev.catalog)
}

// StartRecording begins persisting streamed sensor readings from every
// device through the recorder. Common messages are written to the host log
// at the driver-requested severity.
func (m *Manager) StartRecording(ctx context.Context) error {
	ch, err := m.hub.SubscribePattern("device:*")
	if err != nil {
		return oops.Wrapf(err, "failed to subscribe recorder")
	}
	m.recordCh = ch

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-ch:
				if !ok {
					return
				}
				m.record(ctx, env)
			}
		}
	}()
	return nil
}

func (m *Manager) record(ctx context.Context, env stream.Envelope) {
	id, ok := ParseDeviceStream(env.Stream)
	if !ok {
		slog.Warn("envelope on unrecognized stream", "stream", env.Stream)
		return
	}

	switch msg := env.Msg.(type) {
	case driver.SensorMessage:
		status := "ok"
		if err := m.recorder.Record(ctx, int32(id), msg); err != nil {
			status = "error"
			slog.Error("failed to record sensor message",
				"device_id", id,
				"sensor", msg.Sensor,
				"error", err)
		}
		if m.onRecord != nil {
			m.onRecord(status)
		}
	case driver.CommonMessage:
		logDriverMessage(id, msg)
	default:
		slog.Warn("unrecognized message kind", "device_id", id)
	}
}

func logDriverMessage(id DeviceID, msg driver.CommonMessage) {
	switch msg.Code {
	case driver.MsgError:
		slog.Error("driver message", "device_id", id, "text", msg.Text)
	case driver.MsgWarn:
		slog.Warn("driver message", "device_id", id, "text", msg.Text)
	default:
		slog.Info("driver message", "device_id", id, "text", msg.Text)
	}
}

// Close destroys all sessions and shuts down the binary driver host. Running
// devices are stopped first so drivers get their shutdown barrier.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	devices := make([]*device, 0, len(m.devices))
	for _, dev := range m.devices {
		devices = append(devices, dev)
	}
	m.devices = make(map[DeviceID]*device)
	m.mu.Unlock()

	for _, dev := range devices {
		if dev.session.State() == StateRunning {
			if err := dev.session.Stop(ctx); err != nil {
				slog.Error("failed to stop device during close",
					"device_id", dev.id,
					"error", err)
			}
		}
		dev.session.Destroy()
	}

	if m.recordCh != nil {
		m.hub.Unsubscribe(m.recordCh)
		m.recordCh = nil
	}
	m.wg.Wait()

	if m.binaryHost != nil {
		if err := m.binaryHost.Close(ctx); err != nil {
			return oops.Wrapf(err, "failed to close binary driver host")
		}
	}

	return nil
}

// withRetry retries fn while it fails with the retryable status code,
// bounded by the configured retry budget.
func (m *Manager) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(m.connectRetries, retry.NewExponential(250*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && driver.CodeOf(err).Retryable() {
			if m.onRetry != nil {
				m.onRetry()
			}
			return retry.RetryableError(err)
		}
		return err
	})
}

// stageErr enriches a driver failure with session identity and the
// lifecycle stage that failed.
func (m *Manager) stageErr(id DeviceID, stage string, err error) error {
	if m.onFailure != nil {
		m.onFailure(stage, driver.CodeOf(err))
	}
	return oops.With("device_id", id).With("stage", stage).
		With("code", uint8(driver.CodeOf(err))).
		Wrap(err)
}

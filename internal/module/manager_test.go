// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package module_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monisens/monisens/drivers/simsensor"
	"github.com/monisens/monisens/internal/module"
	"github.com/monisens/monisens/internal/stream"
	"github.com/monisens/monisens/pkg/driver"
	"github.com/monisens/monisens/pkg/errutil"
)

func writeManifest(t *testing.T, driversDir, dirName, yaml string) {
	t.Helper()
	dir := filepath.Join(driversDir, dirName)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "driver.yaml"), []byte(yaml), 0o600))
}

func builtinManifest(name string) string {
	return fmt.Sprintf(`name: %s
version: 1.0.0
type: builtin
abi: 1
builtin-driver:
  driver: %s
`, name, name)
}

// newTestManager registers a simsensor builtin under the given name and
// returns a manager that has loaded it.
func newTestManager(t *testing.T, drv driver.Driver, opts ...module.ManagerOption) *module.Manager {
	t.Helper()
	driver.ResetRegistry()
	t.Cleanup(driver.ResetRegistry)
	require.NoError(t, driver.Register("simsensor", drv))

	driversDir := t.TempDir()
	writeManifest(t, driversDir, "simsensor", builtinManifest("simsensor"))

	mgr := module.NewManager(driversDir, t.TempDir(), stream.NewHub(), opts...)
	require.NoError(t, mgr.LoadAll(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return mgr
}

func simConnConf() driver.Conf {
	return driver.Conf{
		{ID: simsensor.ParamAddr, Value: "sim://test"},
	}
}

func simConfConf() driver.Conf {
	return driver.Conf{
		{ID: simsensor.ParamInterval, Value: int32(20)},
	}
}

func TestManager_DiscoverSkipsInvalid(t *testing.T) {
	driversDir := t.TempDir()
	writeManifest(t, driversDir, "good", builtinManifest("good"))
	writeManifest(t, driversDir, "bad", "name: [broken")
	writeManifest(t, driversDir, "wrong-abi", `name: wrong-abi
version: 1.0.0
type: builtin
abi: 9
builtin-driver:
  driver: x
`)
	// A directory without a manifest is skipped too.
	require.NoError(t, os.MkdirAll(filepath.Join(driversDir, "empty"), 0o750))

	mgr := module.NewManager(driversDir, t.TempDir(), stream.NewHub())
	discovered, err := mgr.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, discovered, 1)
	assert.Equal(t, "good", discovered[0].Manifest.Name)
}

func TestManager_DiscoverMissingDir(t *testing.T) {
	mgr := module.NewManager(filepath.Join(t.TempDir(), "nope"), t.TempDir(), stream.NewHub())
	discovered, err := mgr.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, discovered)
}

func TestManager_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, simsensor.New())

	assert.Equal(t, []string{"simsensor"}, mgr.Drivers())

	id, err := mgr.AddDevice(ctx, "lab_sensor", "simsensor")
	require.NoError(t, err)

	schema, err := mgr.ConnInfo(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, schema)

	require.NoError(t, mgr.Connect(ctx, id, simConnConf()))

	confSchema, err := mgr.ConfInfo(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, confSchema)

	require.NoError(t, mgr.Configure(ctx, id, simConfConf()))

	catalog, err := mgr.SensorTypeInfos(ctx, id)
	require.NoError(t, err)
	assert.Len(t, catalog, 2)
	assert.Equal(t, catalog, mgr.Catalog(id))

	require.NoError(t, mgr.Start(ctx, id))

	devices := mgr.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "lab_sensor", devices[0].Name)
	assert.Equal(t, module.StateRunning, devices[0].State)

	require.NoError(t, mgr.Stop(ctx, id))
	require.NoError(t, mgr.RemoveDevice(ctx, id))
	assert.Empty(t, mgr.Devices())
}

func TestManager_AddDeviceValidation(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, simsensor.New())

	_, err := mgr.AddDevice(ctx, "Lab-Sensor", "simsensor")
	assert.ErrorContains(t, err, "snake_case")
	errutil.AssertErrorCode(t, err, "device_name_invalid")

	_, err = mgr.AddDevice(ctx, "lab_sensor", "missing")
	assert.ErrorContains(t, err, "not registered")
	errutil.AssertErrorCode(t, err, "driver_unknown")
}

func TestManager_DeviceDirLayout(t *testing.T) {
	ctx := context.Background()
	driver.ResetRegistry()
	t.Cleanup(driver.ResetRegistry)
	require.NoError(t, driver.Register("simsensor", simsensor.New()))

	driversDir := t.TempDir()
	dataDir := t.TempDir()
	writeManifest(t, driversDir, "simsensor", builtinManifest("simsensor"))

	mgr := module.NewManager(driversDir, dataDir, stream.NewHub())
	require.NoError(t, mgr.LoadAll(ctx))
	defer func() { _ = mgr.Close(ctx) }()

	id, err := mgr.AddDevice(ctx, "lab_sensor", "simsensor")
	require.NoError(t, err)

	deviceDir := filepath.Join(dataDir, "device", fmt.Sprintf("%d-lab_sensor", id))
	assert.DirExists(t, deviceDir)
	assert.DirExists(t, filepath.Join(deviceDir, "module"))
	assert.DirExists(t, filepath.Join(deviceDir, "data"))

	require.NoError(t, mgr.RemoveDevice(ctx, id))
	assert.NoDirExists(t, deviceDir)
}

func TestManager_ConnectRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, simsensor.New(simsensor.WithConnectFailures(2)),
		module.WithConnectRetries(3))

	id, err := mgr.AddDevice(ctx, "flaky_sensor", "simsensor")
	require.NoError(t, err)

	// Two transient failures are absorbed by the retry budget.
	require.NoError(t, mgr.Connect(ctx, id, simConnConf()))
}

func TestManager_RetryHookFiresPerTransientFailure(t *testing.T) {
	ctx := context.Background()
	retries := 0
	mgr := newTestManager(t, simsensor.New(simsensor.WithConnectFailures(2)),
		module.WithConnectRetries(3),
		module.WithRetryFunc(func() { retries++ }))

	id, err := mgr.AddDevice(ctx, "flaky_sensor", "simsensor")
	require.NoError(t, err)

	require.NoError(t, mgr.Connect(ctx, id, simConnConf()))
	assert.Equal(t, 2, retries)
}

func TestManager_FailureHookReportsStageAndCode(t *testing.T) {
	ctx := context.Background()
	var (
		gotStage string
		gotCode  driver.Code
	)
	mgr := newTestManager(t, simsensor.New(simsensor.WithConfigureRejected()),
		module.WithFailureFunc(func(stage string, code driver.Code) {
			gotStage = stage
			gotCode = code
		}))

	id, err := mgr.AddDevice(ctx, "lab_sensor", "simsensor")
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(ctx, id, simConnConf()))

	require.Error(t, mgr.Configure(ctx, id, simConfConf()))
	assert.Equal(t, "configure", gotStage)
	assert.Equal(t, driver.CodeInvalidParams, gotCode)
}

func TestManager_ConnectDoesNotRetryInvalidParams(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, simsensor.New())

	id, err := mgr.AddDevice(ctx, "lab_sensor", "simsensor")
	require.NoError(t, err)

	// Host-side validation rejects before the driver sees anything.
	_, err = mgr.ConnInfo(ctx, id)
	require.NoError(t, err)

	start := time.Now()
	err = mgr.Connect(ctx, id, driver.Conf{{ID: 99, Value: "x"}})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "invalid params must not be retried")
}

func TestManager_RejectsABIMismatch(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, oldABIDriver{})

	_, err := mgr.AddDevice(ctx, "lab_sensor", "simsensor")
	assert.ErrorContains(t, err, "ABI")
	errutil.AssertErrorCode(t, err, "abi_mismatch")
}

// oldABIDriver reports an ABI revision the host does not speak.
type oldABIDriver struct{}

func (oldABIDriver) Version() uint8 { return 99 }

func (oldABIDriver) Init(context.Context, string) (driver.Handler, error) { return nil, nil }

// memRecorder counts recorder calls for routing assertions. A non-nil
// recordErr makes every Record call fail.
type memRecorder struct {
	mu        sync.Mutex
	ensured   int32
	records   int
	recordErr error
}

func (r *memRecorder) EnsureSensorTables(_ context.Context, deviceID int32, _ []driver.SensorTypeInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensured = deviceID
	return nil
}

func (r *memRecorder) Record(_ context.Context, _ int32, _ driver.SensorMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records++
	return r.recordErr
}

func (r *memRecorder) Close() {}

func (r *memRecorder) ensuredDevice() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensured
}

func (r *memRecorder) recorded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

func TestManager_RecordingRoutesMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &memRecorder{}
	driver.ResetRegistry()
	t.Cleanup(driver.ResetRegistry)
	require.NoError(t, driver.Register("simsensor", simsensor.New()))

	driversDir := t.TempDir()
	writeManifest(t, driversDir, "simsensor", builtinManifest("simsensor"))

	hub := stream.NewHub()
	mgr := module.NewManager(driversDir, t.TempDir(), hub, module.WithRecorder(rec))
	require.NoError(t, mgr.LoadAll(ctx))
	defer func() { _ = mgr.Close(context.Background()) }()

	require.NoError(t, mgr.StartRecording(ctx))

	id, err := mgr.AddDevice(ctx, "lab_sensor", "simsensor")
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(ctx, id, simConnConf()))
	require.NoError(t, mgr.Configure(ctx, id, simConfConf()))

	_, err = mgr.SensorTypeInfos(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int32(id), rec.ensuredDevice(), "storage prepared during catalog discovery")

	require.NoError(t, mgr.Start(ctx, id))

	require.Eventually(t, func() bool {
		return rec.recorded() > 0
	}, 5*time.Second, 20*time.Millisecond, "streamed readings reach the recorder")

	require.NoError(t, mgr.Stop(ctx, id))
}

func TestManager_RecordHookReportsStatus(t *testing.T) {
	tests := []struct {
		name       string
		recorder   *memRecorder
		wantStatus string
	}{
		{name: "successful write", recorder: &memRecorder{}, wantStatus: "ok"},
		{
			name:       "failing write",
			recorder:   &memRecorder{recordErr: errors.New("insert failed")},
			wantStatus: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			driver.ResetRegistry()
			t.Cleanup(driver.ResetRegistry)
			require.NoError(t, driver.Register("simsensor", simsensor.New()))

			driversDir := t.TempDir()
			writeManifest(t, driversDir, "simsensor", builtinManifest("simsensor"))

			var (
				mu       sync.Mutex
				statuses = map[string]int{}
			)
			mgr := module.NewManager(driversDir, t.TempDir(), stream.NewHub(),
				module.WithRecorder(tt.recorder),
				module.WithRecordFunc(func(status string) {
					mu.Lock()
					defer mu.Unlock()
					statuses[status]++
				}))
			require.NoError(t, mgr.LoadAll(ctx))
			defer func() { _ = mgr.Close(context.Background()) }()

			require.NoError(t, mgr.StartRecording(ctx))

			id, err := mgr.AddDevice(ctx, "lab_sensor", "simsensor")
			require.NoError(t, err)
			require.NoError(t, mgr.Connect(ctx, id, simConnConf()))
			require.NoError(t, mgr.Configure(ctx, id, simConfConf()))
			_, err = mgr.SensorTypeInfos(ctx, id)
			require.NoError(t, err)
			require.NoError(t, mgr.Start(ctx, id))

			require.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return statuses[tt.wantStatus] > 0
			}, 5*time.Second, 20*time.Millisecond, "record hook observes writes")

			require.NoError(t, mgr.Stop(ctx, id))
		})
	}
}

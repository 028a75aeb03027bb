// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

// Package rpcdriver manages binary driver processes on the host side.
// The wire protocol and the driver-side entry point live in the public
// pkg/driversdk package so third-party driver binaries can import them.
package rpcdriver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/monisens/monisens/internal/module"
	"github.com/monisens/monisens/pkg/driver"
	"github.com/monisens/monisens/pkg/driversdk"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrHostClosed is returned when operations are attempted on a closed host.
	ErrHostClosed = errors.New("host is closed")
	// ErrDriverNotLoaded is returned when operating on a driver that isn't loaded.
	ErrDriverNotLoaded = errors.New("driver not loaded")
	// ErrDriverAlreadyLoaded is returned when loading a driver that's already loaded.
	ErrDriverAlreadyLoaded = errors.New("driver already loaded")
)

// Compile-time interface check.
var _ module.Host = (*Host)(nil)

// PluginClient wraps the go-plugin client for testability.
type PluginClient interface {
	// Client returns the client protocol for dispensing.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the driver process.
	Kill()
}

// ClientFactory creates driver process clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  driversdk.HandshakeConfig,
		Plugins:          driversdk.PluginMap,
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath resolved from driver manifest; manifests validated during discovery
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
	})
}

// Host runs binary drivers as subprocesses via HashiCorp go-plugin.
type Host struct {
	clientFactory ClientFactory
	drivers       map[string]*loadedDriver
	mu            sync.RWMutex
	closed        bool
}

// loadedDriver holds state for a single running driver process.
type loadedDriver struct {
	manifest *module.Manifest
	client   PluginClient
	driver   driver.Driver
}

// NewHost creates a new binary driver host.
func NewHost() *Host {
	return &Host{
		clientFactory: &DefaultClientFactory{},
		drivers:       make(map[string]*loadedDriver),
	}
}

// NewHostWithFactory creates a host with a custom client factory (for testing).
// Panics if factory is nil.
func NewHostWithFactory(factory ClientFactory) *Host {
	if factory == nil {
		panic("rpcdriver: factory cannot be nil")
	}
	return &Host{
		clientFactory: factory,
		drivers:       make(map[string]*loadedDriver),
	}
}

// Load starts the driver process named by the manifest and returns its
// host-side proxy. The same manifest name cannot be loaded twice.
func (h *Host) Load(_ context.Context, manifest *module.Manifest, dir string) (driver.Driver, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHostClosed
	}

	if ld, ok := h.drivers[manifest.Name]; ok {
		if ld.manifest.Version == manifest.Version {
			return ld.driver, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrDriverAlreadyLoaded, manifest.Name)
	}

	if manifest.Binary == nil {
		return nil, fmt.Errorf("driver %s is not a binary driver", manifest.Name)
	}

	execPath := filepath.Join(dir, manifest.Binary.Executable)
	if _, err := os.Stat(execPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("driver executable not found: %s: %w", execPath, err)
		}
		return nil, fmt.Errorf("cannot access driver executable %s: %w", execPath, err)
	}

	client := h.clientFactory.NewClient(execPath)

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to driver %s: %w", manifest.Name, err)
	}

	raw, err := rpcClient.Dispense("driver")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense driver %s: %w", manifest.Name, err)
	}

	drv, ok := raw.(driver.Driver)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("driver %s does not implement the driver contract", manifest.Name)
	}

	h.drivers[manifest.Name] = &loadedDriver{
		manifest: manifest,
		client:   client,
		driver:   drv,
	}

	return drv, nil
}

// Unload terminates a driver process. Sessions backed by it must be
// destroyed first; any still alive will see transport failures.
func (h *Host) Unload(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHostClosed
	}

	ld, ok := h.drivers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDriverNotLoaded, name)
	}

	if ld.client != nil {
		ld.client.Kill()
	}

	delete(h.drivers, name)
	return nil
}

// Drivers returns names of all loaded drivers.
func (h *Host) Drivers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil
	}

	names := make([]string, 0, len(h.drivers))
	for name := range h.drivers {
		names = append(names, name)
	}
	return names
}

// Close shuts down the host and all driver processes.
func (h *Host) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ld := range h.drivers {
		if ld.client != nil {
			ld.client.Kill()
		}
	}

	h.closed = true
	clear(h.drivers)
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

// Package module hosts device driver sessions: discovery of installed
// drivers, the per-session lifecycle state machine, and multiplexing of
// streamed messages from running sessions.
package module

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/monisens/monisens/pkg/driver"
)

// Type identifies how a driver is executed.
type Type string

// Driver types supported by the host.
const (
	// TypeBuiltin drivers are compiled into the host and resolved through
	// the driver registry.
	TypeBuiltin Type = "builtin"
	// TypeBinary drivers run as separate processes spoken to over RPC.
	TypeBinary Type = "binary"
)

// Manifest represents a driver.yaml file.
type Manifest struct {
	Name    string         `yaml:"name" json:"name"`
	Version string         `yaml:"version" json:"version"`
	Type    Type           `yaml:"type" json:"type"`
	ABI     uint8          `yaml:"abi" json:"abi"`
	Builtin *BuiltinConfig `yaml:"builtin-driver,omitempty" json:"builtin-driver,omitempty"`
	Binary  *BinaryConfig  `yaml:"binary-driver,omitempty" json:"binary-driver,omitempty"`
}

// BuiltinConfig holds builtin driver configuration.
type BuiltinConfig struct {
	// Driver is the registry name the driver package registered under.
	Driver string `yaml:"driver" json:"driver"`
}

// BinaryConfig holds binary driver configuration.
type BinaryConfig struct {
	Executable string `yaml:"executable" json:"executable"`
}

// maxNameLength is the maximum allowed length for driver names.
const maxNameLength = 64

// namePattern validates driver names: must start with a lowercase letter,
// followed by lowercase letters, digits, or hyphens. Cannot end with a
// hyphen.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates a driver.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not valid semver: %w", m.Version, err)
	}

	if m.ABI != driver.ABIVersion {
		return fmt.Errorf("abi %d is not supported (host speaks %d)", m.ABI, driver.ABIVersion)
	}

	switch m.Type {
	case TypeBuiltin:
		if m.Builtin == nil {
			return fmt.Errorf("builtin-driver is required when type is builtin")
		}
		if m.Builtin.Driver == "" {
			return fmt.Errorf("builtin-driver.driver is required")
		}
	case TypeBinary:
		if m.Binary == nil {
			return fmt.Errorf("binary-driver is required when type is binary")
		}
		if m.Binary.Executable == "" {
			return fmt.Errorf("binary-driver.executable is required")
		}
	default:
		return fmt.Errorf("type must be 'builtin' or 'binary', got %q", m.Type)
	}

	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package main

import (
	"fmt"
	"math"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/monisens/monisens/pkg/driver"
)

// hostConfig holds configuration for the run command. Values come from the
// YAML config file first; command-line flags override file values.
type hostConfig struct {
	DataDir        string         `koanf:"data-dir"`
	DriversDir     string         `koanf:"drivers-dir"`
	DatabaseURL    string         `koanf:"database-url"`
	MetricsAddr    string         `koanf:"metrics-addr"`
	LogFormat      string         `koanf:"log-format"`
	LogLevel       string         `koanf:"log-level"`
	ConnectRetries uint64         `koanf:"connect-retries"`
	Devices        []deviceConfig `koanf:"devices"`
}

// deviceConfig declares one device to bring up at startup.
type deviceConfig struct {
	Name      string       `koanf:"name"`
	Driver    string       `koanf:"driver"`
	Connect   []paramValue `koanf:"connect"`
	Configure []paramValue `koanf:"configure"`
}

// paramValue is one submitted parameter value from the config file.
type paramValue struct {
	ID    int32 `koanf:"id"`
	Value any   `koanf:"value"`
}

// Validate checks that the configuration is valid.
func (cfg *hostConfig) Validate() error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data-dir is required")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("log-format must be 'json' or 'text', got %q", cfg.LogFormat)
	}
	for _, dev := range cfg.Devices {
		if dev.Name == "" || dev.Driver == "" {
			return fmt.Errorf("every device needs a name and a driver")
		}
	}
	return nil
}

// loadConfig merges the config file (when given) and command-line flags into
// a hostConfig. Flags set on the command line win over file values.
func loadConfig(path string, flags *pflag.FlagSet) (*hostConfig, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg hostConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// toConf converts config-file parameter values into a driver.Conf, narrowing
// YAML's decoded types to the representations the contract expects.
func toConf(params []paramValue) (driver.Conf, error) {
	conf := make(driver.Conf, 0, len(params))
	for _, p := range params {
		v, err := normalizeValue(p.Value)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", p.ID, err)
		}
		conf = append(conf, driver.ConfEntry{ID: p.ID, Value: v})
	}
	return conf, nil
}

func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return val, nil
	case bool:
		return nil, fmt.Errorf("boolean values are not a supported parameter type")
	case int:
		return toInt32(val)
	case int32:
		return val, nil
	case int64:
		return toInt32(val)
	case float64:
		return val, nil
	case []any:
		if len(val) != 2 {
			return nil, fmt.Errorf("range values need exactly two elements, got %d", len(val))
		}
		if isFloat(val[0]) || isFloat(val[1]) {
			lo, err1 := toFloat(val[0])
			hi, err2 := toFloat(val[1])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("range elements must be numbers")
			}
			return [2]float64{lo, hi}, nil
		}
		lo, err1 := toInt32(val[0])
		hi, err2 := toInt32(val[1])
		if err1 != nil {
			return nil, fmt.Errorf("range elements must be numbers: %w", err1)
		}
		if err2 != nil {
			return nil, fmt.Errorf("range elements must be numbers: %w", err2)
		}
		return [2]int32{lo, hi}, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func isFloat(v any) bool {
	_, ok := v.(float64)
	return ok
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func toInt32(v any) (int32, error) {
	var n int64
	switch m := v.(type) {
	case int:
		n = int64(m)
	case int64:
		n = m
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("integer %d overflows the 32-bit parameter range", n)
	}
	return int32(n), nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package module

import (
	"regexp"

	"github.com/samber/oops"

	"github.com/monisens/monisens/pkg/driver"
)

// snakePattern validates sensor and data field names: snake_case, starting
// with a letter. A driver may return any string; this check is a host
// responsibility layered on top of the contract, surfaced separately from the
// driver's own status codes.
var snakePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidName reports whether a sensor or data field name satisfies the host's
// naming convention.
func ValidName(name string) bool {
	return snakePattern.MatchString(name)
}

// ValidateCatalog checks a discovered sensor catalog against host naming
// rules: snake_case names, unique sensor names within the device, unique
// field names within each sensor, and at least one field per sensor.
func ValidateCatalog(infos []driver.SensorTypeInfo) error {
	errb := oops.Code("catalog_invalid")

	seen := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		if !ValidName(info.Name) {
			return errb.With("sensor", info.Name).
				Errorf("sensor name %q is not snake_case", info.Name)
		}
		if _, dup := seen[info.Name]; dup {
			return errb.With("sensor", info.Name).
				Errorf("duplicate sensor name %q", info.Name)
		}
		seen[info.Name] = struct{}{}

		if len(info.Fields) == 0 {
			return errb.With("sensor", info.Name).
				Errorf("sensor %q reports no data fields", info.Name)
		}

		fields := make(map[string]struct{}, len(info.Fields))
		for _, f := range info.Fields {
			if !ValidName(f.Name) {
				return errb.With("sensor", info.Name).With("field", f.Name).
					Errorf("data field name %q is not snake_case", f.Name)
			}
			if _, dup := fields[f.Name]; dup {
				return errb.With("sensor", info.Name).With("field", f.Name).
					Errorf("duplicate data field %q in sensor %q", f.Name, info.Name)
			}
			fields[f.Name] = struct{}{}
		}
	}

	return nil
}

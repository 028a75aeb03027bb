// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package driver

// DataType identifies the wire shape of one sensor data field.
type DataType uint8

// Data types a sensor field may carry.
const (
	TypeInt16 DataType = iota
	TypeInt32
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeTimestamp
	TypeString
	TypeJSON
)

func (t DataType) String() string {
	switch t {
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeTimestamp:
		return "timestamp"
	case TypeString:
		return "string"
	case TypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// DataField describes one value a sensor emits. Names must be snake_case and
// unique within a sensor; the host enforces this, not the driver.
type DataField struct {
	Name string
	Type DataType
}

// SensorTypeInfo describes one sensor type of a configured device: its
// identifying name (snake_case, unique within the device, host-validated)
// and the shape of the values it will emit while streaming.
type SensorTypeInfo struct {
	Name   string
	Fields []DataField
}

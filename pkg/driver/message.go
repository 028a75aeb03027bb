// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package driver

// MsgCode is the severity of a CommonMessage.
type MsgCode uint8

// Severities a driver may attach to a log-style message.
const (
	MsgInfo MsgCode = iota
	MsgWarn
	MsgError
)

func (c MsgCode) String() string {
	switch c {
	case MsgInfo:
		return "info"
	case MsgWarn:
		return "warn"
	case MsgError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is what a driver pushes through the MessageSink while streaming.
// It is either a SensorMessage or a CommonMessage.
type Message interface {
	message()
}

// SensorValue is one emitted data value. Value holds the Go type matching
// Type:
//
//	TypeInt16     int16
//	TypeInt32     int32
//	TypeInt64     int64
//	TypeFloat32   float32
//	TypeFloat64   float64
//	TypeTimestamp int64 (Unix milliseconds)
//	TypeString    string
//	TypeJSON      string (a JSON document)
type SensorValue struct {
	Name  string
	Type  DataType
	Value any
}

// SensorMessage carries one reading from one sensor: the sensor's catalog
// name and its data values.
type SensorMessage struct {
	Sensor string
	Values []SensorValue
}

func (SensorMessage) message() {}

// CommonMessage is a log-style message from the driver itself, not tied to a
// sensor reading.
type CommonMessage struct {
	Code MsgCode
	Text string
}

func (CommonMessage) message() {}

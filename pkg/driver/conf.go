// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package driver

// ConfEntry is one submitted parameter value. Value holds the Go type
// matching the parameter's schema kind:
//
//	ParamString     string
//	ParamInt        int32
//	ParamIntRange   [2]int32
//	ParamFloat      float64
//	ParamFloatRange [2]float64
//	ParamJSON       string (a JSON document)
//	ParamChoiceList int32 (index into Choices)
//
// A nil Value means the parameter was left unset.
type ConfEntry struct {
	ID    int32
	Value any
}

// Conf is the set of parameter values passed to Connect and Configure. It is
// read by the driver during the call only; the driver does not retain the
// slice past the call.
type Conf []ConfEntry

// Get returns the value for the given parameter ID, or nil if absent or
// unset.
func (c Conf) Get(id int32) any {
	for _, e := range c {
		if e.ID == id {
			return e.Value
		}
	}
	return nil
}

// GetString returns the string value for id, if present and string-typed.
func (c Conf) GetString(id int32) (string, bool) {
	s, ok := c.Get(id).(string)
	return s, ok
}

// GetInt returns the int32 value for id, if present and int-typed. Choice
// list selections use the same representation.
func (c Conf) GetInt(id int32) (int32, bool) {
	n, ok := c.Get(id).(int32)
	return n, ok
}

// GetFloat returns the float64 value for id, if present and float-typed.
func (c Conf) GetFloat(id int32) (float64, bool) {
	f, ok := c.Get(id).(float64)
	return f, ok
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package driver

// ParamKind identifies the shape of one schema entry.
type ParamKind uint8

// Schema entry kinds for connection and configuration parameters.
const (
	ParamSection ParamKind = iota
	ParamString
	ParamInt
	ParamIntRange
	ParamFloat
	ParamFloatRange
	ParamJSON
	ParamChoiceList
)

func (k ParamKind) String() string {
	switch k {
	case ParamSection:
		return "section"
	case ParamString:
		return "string"
	case ParamInt:
		return "int"
	case ParamIntRange:
		return "int_range"
	case ParamFloat:
		return "float"
	case ParamFloatRange:
		return "float_range"
	case ParamJSON:
		return "json"
	case ParamChoiceList:
		return "choice_list"
	default:
		return "unknown"
	}
}

// ParamInfo describes one connection or configuration parameter. Exactly one
// of the kind-specific fields is set, matching Kind. Sections carry no ID of
// their own; they group nested entries.
type ParamInfo struct {
	ID   int32
	Name string
	Kind ParamKind

	Section    []ParamInfo
	String     *StringParam
	Int        *IntParam
	IntRange   *IntRangeParam
	Float      *FloatParam
	FloatRange *FloatRangeParam
	JSON       *JSONParam
	ChoiceList *ChoiceListParam
}

// StringParam constrains a string parameter. Nil pointers mean "no
// constraint".
type StringParam struct {
	Required   bool
	Default    *string
	MinLen     *int32
	MaxLen     *int32
	MatchRegex string
}

// IntParam constrains an integer parameter.
type IntParam struct {
	Required bool
	Default  *int32
	LT       *int32
	GT       *int32
	NEQ      *int32
}

// IntRangeParam describes an inclusive integer range selection.
type IntRangeParam struct {
	Required bool
	DefFrom  *int32
	DefTo    *int32
	Min      int32
	Max      int32
}

// FloatParam constrains a floating-point parameter.
type FloatParam struct {
	Required bool
	Default  *float64
	LT       *float64
	GT       *float64
	NEQ      *float64
}

// FloatRangeParam describes an inclusive floating-point range selection.
type FloatRangeParam struct {
	Required bool
	DefFrom  *float64
	DefTo    *float64
	Min      float64
	Max      float64
}

// JSONParam describes a free-form JSON parameter. Schema, when non-empty, is
// a JSON Schema document the host validates submitted values against before
// they reach the driver.
type JSONParam struct {
	Required bool
	Default  string
	Schema   string
}

// ChoiceListParam describes a single selection from a fixed list. Values are
// submitted as the index of the chosen item.
type ChoiceListParam struct {
	Required bool
	Default  *int32
	Choices  []string
}

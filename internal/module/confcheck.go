// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package module

import (
	"encoding/json"
	"regexp"

	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/monisens/monisens/pkg/driver"
)

// CheckConf validates submitted parameter values against the schema the
// driver reported through ConnInfo or ConfInfo. The driver performs its own
// structural checks too; doing it host-side first turns most caller mistakes
// into errors before any driver I/O.
func CheckConf(schema []driver.ParamInfo, conf driver.Conf) error {
	byID := make(map[int32]driver.ParamInfo)
	flatten(schema, byID)

	for _, entry := range conf {
		info, ok := byID[entry.ID]
		if !ok {
			return oops.Code("conf_invalid").With("param_id", entry.ID).
				Errorf("unknown parameter id %d", entry.ID)
		}
		if entry.Value == nil {
			continue
		}
		if err := checkValue(info, entry.Value); err != nil {
			return err
		}
	}

	// Required parameters must be present with a value.
	for id, info := range byID {
		if !required(info) {
			continue
		}
		if conf.Get(id) == nil {
			return oops.Code("conf_invalid").
				With("param_id", id).With("param", info.Name).
				Errorf("required parameter %q is unset", info.Name)
		}
	}

	return nil
}

func flatten(params []driver.ParamInfo, out map[int32]driver.ParamInfo) {
	for _, p := range params {
		if p.Kind == driver.ParamSection {
			flatten(p.Section, out)
			continue
		}
		out[p.ID] = p
	}
}

func required(p driver.ParamInfo) bool {
	switch p.Kind {
	case driver.ParamString:
		return p.String != nil && p.String.Required
	case driver.ParamInt:
		return p.Int != nil && p.Int.Required
	case driver.ParamIntRange:
		return p.IntRange != nil && p.IntRange.Required
	case driver.ParamFloat:
		return p.Float != nil && p.Float.Required
	case driver.ParamFloatRange:
		return p.FloatRange != nil && p.FloatRange.Required
	case driver.ParamJSON:
		return p.JSON != nil && p.JSON.Required
	case driver.ParamChoiceList:
		return p.ChoiceList != nil && p.ChoiceList.Required
	default:
		return false
	}
}

func checkValue(info driver.ParamInfo, value any) error {
	errb := oops.Code("conf_invalid").With("param_id", info.ID).With("param", info.Name)

	switch info.Kind {
	case driver.ParamString:
		s, ok := value.(string)
		if !ok {
			return errb.Errorf("parameter %q expects a string", info.Name)
		}
		return checkString(errb, info.String, s, info.Name)

	case driver.ParamInt:
		n, ok := value.(int32)
		if !ok {
			return errb.Errorf("parameter %q expects an int32", info.Name)
		}
		return checkInt(errb, info.Int, n, info.Name)

	case driver.ParamIntRange:
		r, ok := value.([2]int32)
		if !ok {
			return errb.Errorf("parameter %q expects an int range", info.Name)
		}
		if info.IntRange != nil && (r[0] < info.IntRange.Min || r[1] > info.IntRange.Max || r[0] > r[1]) {
			return errb.Errorf("range [%d, %d] outside [%d, %d]", r[0], r[1], info.IntRange.Min, info.IntRange.Max)
		}
		return nil

	case driver.ParamFloat:
		f, ok := value.(float64)
		if !ok {
			return errb.Errorf("parameter %q expects a float64", info.Name)
		}
		return checkFloat(errb, info.Float, f, info.Name)

	case driver.ParamFloatRange:
		r, ok := value.([2]float64)
		if !ok {
			return errb.Errorf("parameter %q expects a float range", info.Name)
		}
		if info.FloatRange != nil && (r[0] < info.FloatRange.Min || r[1] > info.FloatRange.Max || r[0] > r[1]) {
			return errb.Errorf("range [%g, %g] outside [%g, %g]", r[0], r[1], info.FloatRange.Min, info.FloatRange.Max)
		}
		return nil

	case driver.ParamJSON:
		s, ok := value.(string)
		if !ok {
			return errb.Errorf("parameter %q expects a JSON string", info.Name)
		}
		return checkJSON(errb, info.JSON, s, info.Name)

	case driver.ParamChoiceList:
		idx, ok := value.(int32)
		if !ok {
			return errb.Errorf("parameter %q expects a choice index", info.Name)
		}
		if info.ChoiceList != nil && (idx < 0 || int(idx) >= len(info.ChoiceList.Choices)) {
			return errb.Errorf("choice index %d out of range for %q", idx, info.Name)
		}
		return nil

	default:
		return errb.Errorf("parameter %q has unknown kind", info.Name)
	}
}

func checkString(errb oops.OopsErrorBuilder, c *driver.StringParam, s, name string) error {
	if c == nil {
		return nil
	}
	if c.MinLen != nil && int32(len(s)) < *c.MinLen {
		return errb.Errorf("parameter %q shorter than %d", name, *c.MinLen)
	}
	if c.MaxLen != nil && int32(len(s)) > *c.MaxLen {
		return errb.Errorf("parameter %q longer than %d", name, *c.MaxLen)
	}
	if c.MatchRegex != "" {
		re, err := regexp.Compile(c.MatchRegex)
		if err != nil {
			return errb.Wrapf(err, "parameter %q carries an invalid regex", name)
		}
		if !re.MatchString(s) {
			return errb.Errorf("parameter %q does not match %q", name, c.MatchRegex)
		}
	}
	return nil
}

func checkInt(errb oops.OopsErrorBuilder, c *driver.IntParam, n int32, name string) error {
	if c == nil {
		return nil
	}
	if c.LT != nil && n >= *c.LT {
		return errb.Errorf("parameter %q must be less than %d", name, *c.LT)
	}
	if c.GT != nil && n <= *c.GT {
		return errb.Errorf("parameter %q must be greater than %d", name, *c.GT)
	}
	if c.NEQ != nil && n == *c.NEQ {
		return errb.Errorf("parameter %q must not equal %d", name, *c.NEQ)
	}
	return nil
}

func checkFloat(errb oops.OopsErrorBuilder, c *driver.FloatParam, f float64, name string) error {
	if c == nil {
		return nil
	}
	if c.LT != nil && f >= *c.LT {
		return errb.Errorf("parameter %q must be less than %g", name, *c.LT)
	}
	if c.GT != nil && f <= *c.GT {
		return errb.Errorf("parameter %q must be greater than %g", name, *c.GT)
	}
	if c.NEQ != nil && f == *c.NEQ {
		return errb.Errorf("parameter %q must not equal %g", name, *c.NEQ)
	}
	return nil
}

// checkJSON verifies the value parses as JSON and, when the schema carries a
// JSON Schema document, validates it against that.
func checkJSON(errb oops.OopsErrorBuilder, c *driver.JSONParam, s, name string) error {
	var doc any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return errb.Wrapf(err, "parameter %q is not valid JSON", name)
	}
	if c == nil || c.Schema == "" {
		return nil
	}

	sch, err := compileParamSchema(c.Schema)
	if err != nil {
		return errb.Wrapf(err, "parameter %q carries an invalid JSON Schema", name)
	}
	if err := sch.Validate(doc); err != nil {
		return errb.Wrapf(err, "parameter %q rejected by schema", name)
	}
	return nil
}

func compileParamSchema(schema string) (*jschema.Schema, error) {
	var schemaDoc any
	if err := json.Unmarshal([]byte(schema), &schemaDoc); err != nil {
		return nil, err
	}
	c := jschema.NewCompiler()
	if err := c.AddResource("param.schema.json", schemaDoc); err != nil {
		return nil, err
	}
	return c.Compile("param.schema.json")
}

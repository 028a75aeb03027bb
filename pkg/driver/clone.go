// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MoniSens Contributors

package driver

// Visitor arguments are valid only for the duration of the visit; a consumer
// that keeps them must copy. The helpers below produce deep copies with no
// aliasing back into driver-owned memory.

// CloneParams deep-copies a parameter schema.
func CloneParams(params []ParamInfo) []ParamInfo {
	if params == nil {
		return nil
	}
	out := make([]ParamInfo, len(params))
	for i, p := range params {
		out[i] = cloneParam(p)
	}
	return out
}

func cloneParam(p ParamInfo) ParamInfo {
	c := p
	c.Section = CloneParams(p.Section)
	if p.String != nil {
		v := *p.String
		v.Default = clonePtr(p.String.Default)
		v.MinLen = clonePtr(p.String.MinLen)
		v.MaxLen = clonePtr(p.String.MaxLen)
		c.String = &v
	}
	if p.Int != nil {
		v := *p.Int
		v.Default = clonePtr(p.Int.Default)
		v.LT = clonePtr(p.Int.LT)
		v.GT = clonePtr(p.Int.GT)
		v.NEQ = clonePtr(p.Int.NEQ)
		c.Int = &v
	}
	if p.IntRange != nil {
		v := *p.IntRange
		v.DefFrom = clonePtr(p.IntRange.DefFrom)
		v.DefTo = clonePtr(p.IntRange.DefTo)
		c.IntRange = &v
	}
	if p.Float != nil {
		v := *p.Float
		v.Default = clonePtr(p.Float.Default)
		v.LT = clonePtr(p.Float.LT)
		v.GT = clonePtr(p.Float.GT)
		v.NEQ = clonePtr(p.Float.NEQ)
		c.Float = &v
	}
	if p.FloatRange != nil {
		v := *p.FloatRange
		v.DefFrom = clonePtr(p.FloatRange.DefFrom)
		v.DefTo = clonePtr(p.FloatRange.DefTo)
		c.FloatRange = &v
	}
	if p.JSON != nil {
		v := *p.JSON
		c.JSON = &v
	}
	if p.ChoiceList != nil {
		v := *p.ChoiceList
		v.Default = clonePtr(p.ChoiceList.Default)
		v.Choices = append([]string(nil), p.ChoiceList.Choices...)
		c.ChoiceList = &v
	}
	return c
}

// CloneCatalog deep-copies sensor type infos.
func CloneCatalog(infos []SensorTypeInfo) []SensorTypeInfo {
	if infos == nil {
		return nil
	}
	out := make([]SensorTypeInfo, len(infos))
	for i, info := range infos {
		out[i] = SensorTypeInfo{
			Name:   info.Name,
			Fields: append([]DataField(nil), info.Fields...),
		}
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

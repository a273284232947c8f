// Copyright (c) 2025 The labsync developers. All rights reserved.
// Project site: https://github.com/hqe-lab/labsync
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labsync

import (
	"fmt"
	"sort"
)

// DataType provides the type for a parameter's value kind.
type DataType int

// Available parameter data types.
const (
	TypeNone DataType = iota
	TypeFloat
	TypeInt
	TypeBool
	TypeString
)

var dataTypeDesc = map[DataType]string{
	TypeNone:   "none",
	TypeFloat:  "float",
	TypeInt:    "int",
	TypeBool:   "bool",
	TypeString: "string",
}

func (t DataType) String() string {
	return dataTypeDesc[t]
}

// Parameter describes one controllable or readable setting of a device.
// Parameters are created once when a profile is built and never mutated.
type Parameter struct {
	Key string
	// Method is the driver setter (or fire command) invoked on SET. Empty
	// means the parameter cannot be set.
	Method string
	// Getter is the zero-argument driver method invoked on POLL.
	Getter string
	Min    *float64
	Max    *float64
	Unit   string
	Type   DataType
	// Channels is the number of channels for multi-channel parameters.
	Channels int
}

// Bound returns a pointer to f, for filling in Parameter limits.
func Bound(f float64) *float64 { return &f }

// Validate checks v against the parameter's bounds. Multi-channel parameters
// take a ChannelValue and all others a plain value. Only numeric parameters
// are bounded; the limits themselves are allowed values.
func (p Parameter) Validate(v any) error {
	cv, ok := v.(ChannelValue)
	switch {
	case ok && p.Channels == 0:
		return fmt.Errorf("%w: %s takes no channel", ErrBadArgument, p.Key)
	case !ok && p.Channels > 0:
		return fmt.Errorf("%w: %s needs a channel in 1-%d", ErrBadArgument, p.Key, p.Channels)
	}
	if ok {
		if cv.Channel < 1 || cv.Channel > p.Channels {
			return fmt.Errorf("%w: %s channel %d not in 1-%d", ErrOutOfRange, p.Key, cv.Channel, p.Channels)
		}
		v = cv.Value
	}
	if p.Type != TypeFloat && p.Type != TypeInt {
		return nil
	}
	f, err := AsFloat(v)
	if err != nil {
		return fmt.Errorf("%s: %w", p.Key, err)
	}
	if p.Type == TypeInt {
		if _, err := AsInt(v); err != nil {
			return fmt.Errorf("%s: %w", p.Key, err)
		}
	}
	if (p.Min != nil && f < *p.Min) || (p.Max != nil && f > *p.Max) {
		return fmt.Errorf("%w: %s = %v %s not in %s", ErrOutOfRange, p.Key, v, p.Unit, p.limits())
	}
	return nil
}

func (p Parameter) limits() string {
	lo, hi := "-inf", "+inf"
	if p.Min != nil {
		lo = FormatFloat(*p.Min)
	}
	if p.Max != nil {
		hi = FormatFloat(*p.Max)
	}
	return fmt.Sprintf("[%s, %s]", lo, hi)
}

// DeviceProfile maps parameter names to their descriptors.
type DeviceProfile struct {
	params map[string]Parameter
}

// NewProfile builds a profile. Duplicate keys are a programming error.
func NewProfile(params ...Parameter) *DeviceProfile {
	p := &DeviceProfile{params: make(map[string]Parameter, len(params))}
	for _, param := range params {
		if _, ok := p.params[param.Key]; ok {
			panic(fmt.Sprintf("labsync: duplicate parameter %q", param.Key))
		}
		p.params[param.Key] = param
	}
	return p
}

// Get returns the parameter registered under key.
func (p *DeviceProfile) Get(key string) (Parameter, bool) {
	param, ok := p.params[key]
	return param, ok
}

// Keys returns the parameter names in sorted order.
func (p *DeviceProfile) Keys() []string {
	keys := make([]string, 0, len(p.params))
	for k := range p.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

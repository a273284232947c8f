// Copyright (c) 2025 The labsync developers. All rights reserved.
// Project site: https://github.com/hqe-lab/labsync
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labsync

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Driver is the contract shared by every instrument codec. A driver is owned
// by exactly one worker and is never called concurrently.
type Driver interface {
	// Open opens the transport to the instrument and runs its bring-up. The
	// status becomes Connected only after the transport is fully
	// configured; on failure the status is left unchanged and a
	// *ConnectionError is returned.
	Open(ep Endpoint) error
	// Close closes the transport. It is a no-op when not connected.
	Close() error
	Status() ConnectionStatus
	// Invoke calls the driver method registered under name. Setters take
	// (value) or (channel, value); fire commands and getters take nothing.
	Invoke(name string, args ...any) (any, error)
}

// Opener opens the byte stream a driver talks over.
type Opener func(ep Endpoint) (io.ReadWriteCloser, error)

// Method is one entry in a driver's method table.
type Method func(args ...any) (any, error)

// Methods is a driver's explicit name-to-method table.
type Methods map[string]Method

// Call looks name up and calls it.
func (m Methods) Call(name string, args ...any) (any, error) {
	fn, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
	return fn(args...)
}

// Arg returns the i-th argument or ErrBadArgument.
func Arg(args []any, i int) (any, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("%w: want at least %d arguments, got %d", ErrBadArgument, i+1, len(args))
	}
	return args[i], nil
}

// AsFloat coerces a numeric or numeric-string value to float64.
func AsFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrBadArgument, x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %v (%T) is not a number", ErrBadArgument, v, v)
}

// AsInt coerces a value to int. Floats must be integral.
func AsInt(v any) (int, error) {
	if s, ok := v.(string); ok {
		i, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrBadArgument, s)
		}
		return int(i), nil
	}
	f, err := AsFloat(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrBadArgument, v)
	}
	return int(f), nil
}

// AsBool coerces a bool or an ON/OFF, TRUE/FALSE string.
func AsBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToUpper(strings.TrimSpace(x)) {
		case "TRUE", "ON", "1":
			return true, nil
		case "FALSE", "OFF", "0":
			return false, nil
		}
	case int:
		return x != 0, nil
	}
	return false, fmt.Errorf("%w: %v (%T) is not a bool", ErrBadArgument, v, v)
}

// AsString coerces a value to string.
func AsString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	case nil:
		return "", fmt.Errorf("%w: missing string", ErrBadArgument)
	}
	return fmt.Sprint(v), nil
}

// FormatFloat renders a float the way the instruments expect it in ASCII
// commands.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

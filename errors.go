// Copyright (c) 2025 The labsync developers. All rights reserved.
// Project site: https://github.com/hqe-lab/labsync
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labsync

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by drivers and the worker. Use errors.Is to test
// for them; most are wrapped with context before they reach a RequestResult.
var (
	ErrNotConnected     = errors.New("device not connected")
	ErrTimeout          = errors.New("device timeout")
	ErrRejected         = errors.New("device rejected command")
	ErrOutOfRange       = errors.New("value out of range")
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrUnknownMethod    = errors.New("unknown driver method")
	ErrReadOnly         = errors.New("parameter is read-only")
	ErrDeviceMismatch   = errors.New("request addressed to another device")
	ErrBadArgument      = errors.New("bad argument")
	ErrUnknownDevice    = errors.New("unknown device")
)

// ConnectionError is returned by a driver's Open when the transport could not
// be opened or the device did not complete its bring-up.
type ConnectionError struct {
	DeviceID string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("could not connect to device %s", e.DeviceID)
	}
	return fmt.Sprintf("could not connect to device %s: %s", e.DeviceID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ErrorType classifies a failed request.
type ErrorType int

// Available error types. NoError marks a successful result.
const (
	NoError ErrorType = iota
	ConnectionFailure
	InitConnectionFailure
	TaskFailure
	CriticalFailure
	TimeoutFailure
)

var errorTypeDesc = map[ErrorType]string{
	NoError:               "NONE",
	ConnectionFailure:     "CONNECTION",
	InitConnectionFailure: "INIT_CONNECTION",
	TaskFailure:           "TASK",
	CriticalFailure:       "CRITICAL",
	TimeoutFailure:        "TIMEOUT",
}

func (t ErrorType) String() string {
	return errorTypeDesc[t]
}

// classify maps a SET/POLL failure onto its error type.
func classify(err error) ErrorType {
	if errors.Is(err, ErrTimeout) {
		return TimeoutFailure
	}
	return TaskFailure
}

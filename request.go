// Copyright (c) 2025 The labsync developers. All rights reserved.
// Project site: https://github.com/hqe-lab/labsync
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labsync

import "fmt"

// CmdType provides the type for the intent of a DeviceRequest.
type CmdType int

// Available request types.
const (
	Set CmdType = iota
	Poll
	StartPoll
	StopPoll
	Connect
	Disconnect
	Quit
)

var cmdTypeDesc = map[CmdType]string{
	Set:        "SET",
	Poll:       "POLL",
	StartPoll:  "START_POLL",
	StopPoll:   "STOP_POLL",
	Connect:    "CONNECT",
	Disconnect: "DISCONNECT",
	Quit:       "QUIT",
}

func (c CmdType) String() string {
	return cmdTypeDesc[c]
}

// DeviceRequest is a command sent to exactly one device worker. It is passed
// by value, so a request handed to a worker cannot be changed by the sender.
type DeviceRequest struct {
	DeviceID  string
	Cmd       CmdType
	Parameter string
	// Value is the SET argument, the START_POLL interval (time.Duration or
	// milliseconds), or the CONNECT endpoint override. A ChannelValue
	// addresses one channel of a multi-channel device.
	Value any
	// Silent marks a best-effort CONNECT whose failure is reported as
	// INIT_CONNECTION instead of CONNECTION.
	Silent bool
}

// ID returns the correlation token of the request. It doubles as the
// dedupe key of an active poll context.
func (r DeviceRequest) ID() string {
	return fmt.Sprintf("%s_%s_%s", r.Cmd, r.DeviceID, r.Parameter)
}

// ChannelValue carries a value for one channel of a multi-channel device.
type ChannelValue struct {
	Value   any
	Channel int
}

// Endpoint is where a driver finds its instrument: a serial port and baud
// rate, or a TCP address.
type Endpoint struct {
	Port    string
	Baud    int
	Address string
}

func (e Endpoint) String() string {
	if e.Address != "" {
		return e.Address
	}
	return fmt.Sprintf("%s@%d", e.Port, e.Baud)
}

// RequestResult is produced by a worker in response to exactly one request,
// or synthesized by a handler that refused to forward one.
type RequestResult struct {
	DeviceID  string
	RequestID string
	Cmd       CmdType
	Parameter string
	Value     any
	Err       error
	ErrType   ErrorType
}

// IsSuccess reports whether the request completed without error.
func (r RequestResult) IsSuccess() bool {
	return r.Err == nil
}

func resultFor(req DeviceRequest) RequestResult {
	return RequestResult{
		DeviceID:  req.DeviceID,
		RequestID: req.ID(),
		Cmd:       req.Cmd,
		Parameter: req.Parameter,
	}
}

func (r RequestResult) withValue(v any) RequestResult {
	r.Value = v
	return r
}

func (r RequestResult) withError(t ErrorType, err error) RequestResult {
	r.Err = err
	r.ErrType = t
	return r
}

// Copyright (c) 2025 The labsync developers. All rights reserved.
// Project site: https://github.com/hqe-lab/labsync
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labsync

import (
	"sync"
	"time"
)

type call struct {
	name string
	args []any
}

// fakeDriver records every call and answers getters from a value table.
type fakeDriver struct {
	mu      sync.Mutex
	status  ConnectionStatus
	openErr error
	opened  []Endpoint
	closes  int
	calls   []call
	values  map[string]any
	errs    map[string]error
	// delays are set before the worker runs and read without the lock.
	delays map[string]time.Duration
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{values: map[string]any{}, errs: map[string]error{}}
}

func (d *fakeDriver) Open(ep Endpoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = append(d.opened, ep)
	if d.openErr != nil {
		return &ConnectionError{DeviceID: "fake", Err: d.openErr}
	}
	d.status = Connected
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == Connected {
		d.closes++
	}
	d.status = Disconnected
	return nil
}

func (d *fakeDriver) Status() ConnectionStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *fakeDriver) Invoke(name string, args ...any) (any, error) {
	time.Sleep(d.delays[name])
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call{name: name, args: args})
	if name == "explode" {
		panic("boom")
	}
	if err := d.errs[name]; err != nil {
		return nil, err
	}
	return d.values[name], nil
}

func (d *fakeDriver) callsTo(name string) []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []call
	for _, c := range d.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (d *fakeDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

var fakeProfile = NewProfile(
	Parameter{Key: "pos", Method: "set_pos", Getter: "get_pos", Min: Bound(0), Max: Bound(100), Unit: "mm", Type: TypeFloat},
	Parameter{Key: "count", Method: "set_count", Min: Bound(1), Max: Bound(10), Type: TypeInt},
	Parameter{Key: "wave", Method: "set_wave", Type: TypeString, Channels: 4},
	Parameter{Key: "START", Method: "start", Type: TypeNone},
	Parameter{Key: "temp", Getter: "get_temp", Unit: "C", Type: TypeFloat},
	Parameter{Key: "status", Getter: "get_status", Type: TypeInt},
	Parameter{Key: "boom", Method: "explode", Type: TypeNone},
	Parameter{Key: "mode", Type: TypeString},
)

// collector gathers emitted results from any goroutine.
type collector struct {
	mu  sync.Mutex
	got []RequestResult
}

func (c *collector) add(r RequestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, r)
}

func (c *collector) results() []RequestResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RequestResult(nil), c.got...)
}

func (c *collector) count(cmd CmdType, param string) int {
	n := 0
	for _, r := range c.results() {
		if r.Cmd == cmd && r.Parameter == param {
			n++
		}
	}
	return n
}

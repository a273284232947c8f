// Copyright (c) 2025 The labsync developers. All rights reserved.
// Project site: https://github.com/hqe-lab/labsync
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, h *WorkerHandler) RequestResult {
	t.Helper()
	select {
	case r := <-h.Results():
		return r
	case <-time.After(time.Second):
		t.Fatal("no result")
	}
	return RequestResult{}
}

func TestHandlerRejectsOtherDevice(t *testing.T) {
	w, d := newTestWorker(t)
	h := NewHandler(w)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	h.Send(DeviceRequest{DeviceID: "X", Cmd: Set, Parameter: "pos", Value: 1.0})
	res := next(t, h)
	assert.Equal(t, TaskFailure, res.ErrType)
	assert.ErrorIs(t, res.Err, ErrDeviceMismatch)
	assert.Equal(t, "X", res.DeviceID)
	assert.Equal(t, "SET_X_pos", res.RequestID)
	assert.Zero(t, d.callCount())
}

func TestHandlerDropsBeforeStart(t *testing.T) {
	w, d := newTestWorker(t)
	h := NewHandler(w)
	h.Send(req(Set, "pos", 1.0))
	h.Send(DeviceRequest{DeviceID: "X", Cmd: Set, Parameter: "pos", Value: 1.0})
	assert.False(t, h.Running())
	assert.Empty(t, h.Results())
	assert.Zero(t, d.callCount())
}

func TestHandlerOrdersRequests(t *testing.T) {
	w, d := newTestWorker(t)
	h := NewHandler(w)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	h.Send(req(Connect, "", nil))
	for i := 1; i <= 5; i++ {
		h.Send(req(Set, "pos", float64(i)))
	}
	require.True(t, next(t, h).IsSuccess())
	for i := 1; i <= 5; i++ {
		res := next(t, h)
		require.True(t, res.IsSuccess())
		assert.Equal(t, float64(i), res.Value)
	}
	calls := d.callsTo("set_pos")
	require.Len(t, calls, 5)
	assert.Equal(t, []any{5.0}, calls[4].args)
	assert.Equal(t, Connected, h.Status())
}

func TestHandlerShutdown(t *testing.T) {
	w, d := newTestWorker(t)
	h := NewHandler(w)
	h.Start(context.Background())

	h.Send(req(Connect, "", nil))
	h.Send(req(StartPoll, "temp", time.Hour))
	h.StartShutdown()
	h.StartShutdown()

	select {
	case <-h.Finished():
	case <-time.After(time.Second):
		t.Fatal("handler did not finish")
	}
	assert.False(t, h.Running())
	assert.Equal(t, Disconnected, d.Status())

	var cmds []CmdType
	for len(h.Results()) > 0 {
		cmds = append(cmds, (<-h.Results()).Cmd)
	}
	assert.Equal(t, []CmdType{Connect, StartPoll, StopPoll, Quit}, cmds)

	// Requests after the worker finished go nowhere.
	h.Send(req(Set, "pos", 1.0))
	assert.Empty(t, d.callsTo("set_pos"))
}

func TestHandlerDropsOnFullResults(t *testing.T) {
	w, _ := newTestWorker(t)
	h := NewHandler(w, WithResultsBuffer(1))
	h.Send(DeviceRequest{DeviceID: "X", Cmd: Poll})
	h.Send(DeviceRequest{DeviceID: "Z", Cmd: Poll})
	require.Len(t, h.Results(), 1)
	assert.Equal(t, "X", (<-h.Results()).DeviceID)
}

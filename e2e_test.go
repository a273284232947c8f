// Copyright (c) 2025 The labsync developers. All rights reserved.
// Project site: https://github.com/hqe-lab/labsync
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labsync_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hqe-lab/labsync"
	"github.com/hqe-lab/labsync/lib/cache"
	"github.com/hqe-lab/labsync/lib/ecovario"
	"github.com/hqe-lab/labsync/lib/fsv"
	"github.com/hqe-lab/labsync/lib/luxx"
	"github.com/hqe-lab/labsync/lib/tga"
)

type rig struct {
	coord *labsync.Coordinator
	cache *cache.Cache
	stage *ecovario.Simulator
	laser *luxx.Simulator
	gen   *tga.Recorder
	fsv   *fsv.Simulator

	mu      sync.Mutex
	waiting map[string]chan labsync.RequestResult
}

func (r *rig) observe(res labsync.RequestResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.waiting[res.RequestID]; ok {
		delete(r.waiting, res.RequestID)
		ch <- res
	}
}

func newRig(t *testing.T) *rig {
	t.Helper()
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	r := &rig{
		cache: cache.New(),
		stage: ecovario.NewSimulator(),
		laser: luxx.NewSimulator(),
		gen:   &tga.Recorder{},
		fsv:   fsv.NewSimulator(),

		waiting: make(map[string]chan labsync.RequestResult),
	}
	r.coord = labsync.NewCoordinator(r.cache, labsync.WithCoordinatorLogger(log), labsync.WithObserver(r.observe))
	drivers := map[string]labsync.Driver{
		labsync.StageID:     ecovario.New(labsync.StageID, r.stage.Opener()),
		labsync.Laser1ID:    luxx.New(labsync.Laser1ID, r.laser.Opener(), luxx.WithQueryDelay(time.Millisecond)),
		labsync.GeneratorID: tga.New(labsync.GeneratorID, r.gen.Opener()),
		labsync.AnalyzerID:  fsv.New(labsync.AnalyzerID, r.fsv.Opener()),
	}
	profiles := labsync.Profiles()
	for id, d := range drivers {
		w := labsync.NewWorker(id, d, profiles[id], labsync.WithLogger(log),
			labsync.WithEndpoint(labsync.Endpoint{Port: "sim", Address: "sim"}))
		r.coord.Add(labsync.NewHandler(w, labsync.WithHandlerLogger(log)))
	}
	r.coord.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, r.coord.Shutdown(ctx))
	})
	return r
}

// do sends req and waits for its result.
func (r *rig) do(t *testing.T, req labsync.DeviceRequest) labsync.RequestResult {
	t.Helper()
	got := make(chan labsync.RequestResult, 1)
	r.mu.Lock()
	r.waiting[req.ID()] = got
	r.mu.Unlock()
	require.NoError(t, r.coord.Send(req))
	select {
	case res := <-got:
		return res
	case <-time.After(5 * time.Second):
		t.Fatalf("no result for %s", req.ID())
	}
	return labsync.RequestResult{}
}

func TestStageMovesToTarget(t *testing.T) {
	r := newRig(t)
	stage := func(cmd labsync.CmdType, param string, v any) labsync.DeviceRequest {
		return labsync.DeviceRequest{DeviceID: labsync.StageID, Cmd: cmd, Parameter: param, Value: v}
	}

	require.True(t, r.do(t, stage(labsync.Connect, "", nil)).IsSuccess())

	res := r.do(t, stage(labsync.Set, "target_pos", labsync.ChannelValue{Value: 1000.0, Channel: 3}))
	assert.Equal(t, labsync.TaskFailure, res.ErrType)
	assert.ErrorIs(t, res.Err, labsync.ErrBadArgument)
	assert.Equal(t, cache.Unknown, r.cache.Get(labsync.StageID, "target_pos"))

	require.True(t, r.do(t, stage(labsync.Set, "target_pos", 1250.0)).IsSuccess())
	require.True(t, r.do(t, stage(labsync.Set, "START", nil)).IsSuccess())
	require.True(t, r.do(t, stage(labsync.StartPoll, "current_pos", 5.0)).IsSuccess())

	require.Eventually(t, func() bool {
		pos, ok := r.cache.Get(labsync.StageID, "current_pos").(float64)
		return ok && pos > 1249.99 && pos < 1250.01
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1250.0, r.cache.Get(labsync.StageID, "target_pos"))

	require.True(t, r.do(t, stage(labsync.Disconnect, "", nil)).IsSuccess())
	require.Eventually(t, func() bool {
		return r.cache.Get(labsync.StageID, "current_pos") == cache.Unknown
	}, time.Second, 5*time.Millisecond)
}

func TestLaserRejectsOutOfRangeTempPower(t *testing.T) {
	r := newRig(t)
	laser := func(cmd labsync.CmdType, param string, v any) labsync.DeviceRequest {
		return labsync.DeviceRequest{DeviceID: labsync.Laser1ID, Cmd: cmd, Parameter: param, Value: v}
	}

	require.True(t, r.do(t, laser(labsync.Connect, "", nil)).IsSuccess())
	before := len(r.laser.Commands())

	res := r.do(t, laser(labsync.Set, "temp_power", 150.0))
	assert.Equal(t, labsync.TaskFailure, res.ErrType)
	assert.ErrorIs(t, res.Err, labsync.ErrOutOfRange)
	assert.Len(t, r.laser.Commands(), before)
	assert.Equal(t, cache.Unknown, r.cache.Get(labsync.Laser1ID, "temp_power"))

	require.True(t, r.do(t, laser(labsync.Set, "temp_power", 40.0)).IsSuccess())
	assert.Equal(t, "?TPP40.0", r.laser.Commands()[before])
}

func TestGeneratorSelectsChannelOnce(t *testing.T) {
	r := newRig(t)
	gen := func(cmd labsync.CmdType, param string, v any) labsync.DeviceRequest {
		return labsync.DeviceRequest{DeviceID: labsync.GeneratorID, Cmd: cmd, Parameter: param, Value: v}
	}

	require.True(t, r.do(t, gen(labsync.Connect, "", nil)).IsSuccess())
	r.gen.Reset()
	require.True(t, r.do(t, gen(labsync.Set, "waveform", labsync.ChannelValue{Value: "sine", Channel: 1})).IsSuccess())
	require.True(t, r.do(t, gen(labsync.Set, "waveform", labsync.ChannelValue{Value: "square", Channel: 2})).IsSuccess())

	assert.Equal(t, []string{"WAVE sine", "SETUPCH 2", "WAVE square"}, r.gen.Lines())
	assert.Equal(t, "sine", r.cache.GetChannel(labsync.GeneratorID, "waveform", 1))
	assert.Equal(t, "square", r.cache.GetChannel(labsync.GeneratorID, "waveform", 2))
}

func TestAnalyzerTraceReachesCache(t *testing.T) {
	r := newRig(t)
	fsvReq := func(cmd labsync.CmdType, param string, v any) labsync.DeviceRequest {
		return labsync.DeviceRequest{DeviceID: labsync.AnalyzerID, Cmd: cmd, Parameter: param, Value: v}
	}

	require.True(t, r.do(t, fsvReq(labsync.Connect, "", nil)).IsSuccess())
	require.True(t, r.do(t, fsvReq(labsync.Set, "sweep_points", 101)).IsSuccess())
	res := r.do(t, fsvReq(labsync.Poll, "single_trace", nil))
	require.True(t, res.IsSuccess(), "%v", res.Err)

	tr, ok := r.cache.Get(labsync.AnalyzerID, "single_trace").(fsv.Trace)
	require.True(t, ok)
	assert.Equal(t, 101, tr.Count)
}

// Copyright (c) 2025 The labsync developers. All rights reserved.
// Project site: https://github.com/hqe-lab/labsync
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/hqe-lab/labsync/lib/monitor"
)

const (
	defaultInboxSize   = 64
	defaultResultsSize = 256
)

// WorkerHandler runs one DeviceWorker on its own goroutine and is the only
// way to reach it. Send never waits for device I/O.
type WorkerHandler struct {
	worker  *DeviceWorker
	inbox   chan DeviceRequest
	results chan RequestResult
	done    chan struct{}
	log     logrus.FieldLogger

	running  atomic.Bool
	started  sync.Once
	stopping sync.Once
}

// HandlerOption applies an option to a handler.
type HandlerOption func(*WorkerHandler)

// WithResultsBuffer sets the capacity of the results channel.
func WithResultsBuffer(n int) HandlerOption {
	return func(h *WorkerHandler) { h.results = make(chan RequestResult, n) }
}

// WithHandlerLogger sets the logger of the handler.
func WithHandlerLogger(l logrus.FieldLogger) HandlerOption {
	return func(h *WorkerHandler) { h.log = l }
}

// NewHandler wraps w. The worker publishes its results through the handler.
func NewHandler(w *DeviceWorker, opts ...HandlerOption) *WorkerHandler {
	h := &WorkerHandler{
		worker:  w,
		inbox:   make(chan DeviceRequest, defaultInboxSize),
		results: make(chan RequestResult, defaultResultsSize),
		done:    make(chan struct{}),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.WithField("device", w.ID())
	w.OnResult(h.publish)
	return h
}

// ID returns the device id of the wrapped worker.
func (h *WorkerHandler) ID() string { return h.worker.ID() }

// Worker returns the wrapped worker.
func (h *WorkerHandler) Worker() *DeviceWorker { return h.worker }

// Status returns the last connection status observed by the worker.
func (h *WorkerHandler) Status() ConnectionStatus { return h.worker.Status() }

// Results returns the channel every result of this device is delivered on.
// It is never closed; use Finished to learn when no more results follow.
func (h *WorkerHandler) Results() <-chan RequestResult { return h.results }

// Finished is closed once the worker goroutine has exited.
func (h *WorkerHandler) Finished() <-chan struct{} { return h.done }

// Running reports whether the worker goroutine is accepting requests.
func (h *WorkerHandler) Running() bool { return h.running.Load() }

// Start launches the worker goroutine. Later calls are no-ops.
func (h *WorkerHandler) Start(ctx context.Context) {
	h.started.Do(func() {
		h.running.Store(true)
		go func() {
			defer close(h.done)
			defer h.running.Store(false)
			h.worker.Run(ctx, h.inbox)
			h.log.Debug("worker finished")
		}()
	})
}

// Send queues req for the worker. Requests sent before Start or after the
// worker finished are dropped. A request addressed to another device is
// answered immediately with a TASK failure and never reaches the driver.
func (h *WorkerHandler) Send(req DeviceRequest) {
	if !h.running.Load() {
		h.log.Debugf("dropping %s: worker not running", req.ID())
		return
	}
	if req.DeviceID != h.worker.ID() {
		h.publish(resultFor(req).withError(TaskFailure,
			fmt.Errorf("%w: %q sent to %q", ErrDeviceMismatch, req.DeviceID, h.worker.ID())))
		return
	}
	select {
	case h.inbox <- req:
	case <-h.done:
	}
}

// StartShutdown asks the worker to stop all polls and quit, then returns
// without waiting. Wait on Finished for completion.
func (h *WorkerHandler) StartShutdown() {
	h.stopping.Do(func() {
		go func() {
			h.Send(DeviceRequest{DeviceID: h.worker.ID(), Cmd: StopPoll})
			h.Send(DeviceRequest{DeviceID: h.worker.ID(), Cmd: Quit})
		}()
	})
}

func (h *WorkerHandler) publish(res RequestResult) {
	if res.Cmd == Connect || res.Cmd == Disconnect || res.Cmd == Quit {
		monitor.SetConnected(h.worker.ID(), h.worker.Status() == Connected)
	}
	select {
	case h.results <- res:
	default:
		monitor.DroppedResults.WithLabelValues(h.worker.ID()).Inc()
		h.log.Warnf("results channel full, dropped %s", res.RequestID)
	}
}

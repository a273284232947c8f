// Copyright (c) 2025 The labsync developers. All rights reserved.
// Project site: https://github.com/hqe-lab/labsync
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labsync

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hqe-lab/labsync/lib/monitor"
)

// DefaultPollInterval is used by START_POLL requests that carry no interval.
const DefaultPollInterval = 500 * time.Millisecond

type pollContext struct {
	req      DeviceRequest
	interval time.Duration
}

// DeviceWorker owns one driver and serves its requests one at a time. All
// blocking I/O for the device happens on the goroutine running Run.
type DeviceWorker struct {
	id       string
	driver   Driver
	profile  *DeviceProfile
	endpoint Endpoint
	log      logrus.FieldLogger
	emit     func(RequestResult)

	polls           map[string]pollContext
	defaultInterval time.Duration
	ticker          *time.Ticker

	interval atomic.Int64
	ticking  atomic.Bool
	status   atomic.Int32
}

// WorkerOption applies an option to a worker.
type WorkerOption func(*DeviceWorker)

// WithLogger sets the logger; the worker adds a device field.
func WithLogger(l logrus.FieldLogger) WorkerOption {
	return func(w *DeviceWorker) { w.log = l }
}

// WithEndpoint sets the endpoint used by CONNECT requests without a value.
func WithEndpoint(ep Endpoint) WorkerOption {
	return func(w *DeviceWorker) { w.endpoint = ep }
}

// WithDefaultPollInterval sets the interval of START_POLL requests that
// carry none.
func WithDefaultPollInterval(d time.Duration) WorkerOption {
	return func(w *DeviceWorker) {
		if d > 0 {
			w.defaultInterval = d
		}
	}
}

// NewWorker creates a worker for the device id driving d.
func NewWorker(id string, d Driver, profile *DeviceProfile, opts ...WorkerOption) *DeviceWorker {
	w := &DeviceWorker{
		id:      id,
		driver:  d,
		profile: profile,
		log:     logrus.StandardLogger(),
		emit:    func(RequestResult) {},
		polls:   make(map[string]pollContext),

		defaultInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithField("device", id)
	return w
}

// ID returns the device id the worker serves.
func (w *DeviceWorker) ID() string { return w.id }

// Profile returns the parameter table of the device.
func (w *DeviceWorker) Profile() *DeviceProfile { return w.profile }

// OnResult sets where poll results and stale-value notifications go. It
// must be called before Run.
func (w *DeviceWorker) OnResult(fn func(RequestResult)) { w.emit = fn }

// Status returns the last observed connection status. Safe to call from any
// goroutine.
func (w *DeviceWorker) Status() ConnectionStatus {
	return ConnectionStatus(w.status.Load())
}

// PollInterval returns the interval the poll timer runs at: the minimum over
// all active poll contexts, or zero when there are none.
func (w *DeviceWorker) PollInterval() time.Duration {
	return time.Duration(w.interval.Load())
}

// Polling reports whether the poll timer is armed.
func (w *DeviceWorker) Polling() bool { return w.ticking.Load() }

// Run serves requests from inbox until a QUIT request has been executed or
// ctx is cancelled. Every request yields exactly one result on the emitter.
//
// Poll ticks are served between requests on this goroutine. Ticks that come
// due while a poll is in flight are discarded, so the next poll waits for the
// next tick.
func (w *DeviceWorker) Run(ctx context.Context, inbox <-chan DeviceRequest) {
	for {
		var tick <-chan time.Time
		if w.ticker != nil {
			tick = w.ticker.C
		}
		select {
		case <-ctx.Done():
			w.Execute(DeviceRequest{DeviceID: w.id, Cmd: Quit})
			return
		case req := <-inbox:
			w.emit(w.Execute(req))
			if req.Cmd == Quit {
				return
			}
		case <-tick:
			w.pollTick()
			w.drainTick()
		}
	}
}

func (w *DeviceWorker) pollTick() {
	if w.driver.Status() != Connected {
		w.stopTicker()
		return
	}
	monitor.PollTicks.WithLabelValues(w.id).Inc()
	for _, key := range w.pollKeys() {
		w.emit(w.Execute(w.polls[key].req))
	}
}

func (w *DeviceWorker) drainTick() {
	if w.ticker == nil {
		return
	}
	select {
	case <-w.ticker.C:
	default:
	}
}

func (w *DeviceWorker) pollKeys() []string {
	keys := make([]string, 0, len(w.polls))
	for k := range w.polls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Execute runs one request synchronously and returns its result. Failures
// never escape as panics or errors; they are reported in the result.
func (w *DeviceWorker) Execute(req DeviceRequest) (res RequestResult) {
	res = resultFor(req)
	defer func() {
		if r := recover(); r != nil {
			res = res.withError(CriticalFailure, fmt.Errorf("%s: driver panic: %v", req.ID(), r))
		}
		w.status.Store(int32(w.driver.Status()))
		if res.Err != nil {
			w.log.WithFields(logrus.Fields{
				"request": res.RequestID,
				"type":    res.ErrType,
			}).Warn(res.Err)
		}
		monitor.ObserveRequest(w.id, req.Cmd.String(), res.ErrType.String())
	}()

	switch req.Cmd {
	case Connect:
		return w.connect(req, res)
	case Disconnect:
		return w.disconnect(res, false)
	case Quit:
		return w.disconnect(res, true)
	case StartPoll:
		return w.startPoll(req, res)
	case StopPoll:
		return w.stopPoll(req, res)
	case Set:
		return w.set(req, res)
	case Poll:
		return w.poll(req, res)
	}
	return res.withError(CriticalFailure, fmt.Errorf("unknown command type %d", req.Cmd))
}

func (w *DeviceWorker) connect(req DeviceRequest, res RequestResult) RequestResult {
	if ep, ok := req.Value.(Endpoint); ok {
		w.endpoint = ep
	}
	if w.driver.Status() == Connected {
		// Reconnecting, possibly to a new endpoint.
		if err := w.driver.Close(); err != nil {
			w.log.Warnf("closing before reconnect: %s", err)
		}
	}
	if err := w.driver.Open(w.endpoint); err != nil {
		t := ConnectionFailure
		if req.Silent {
			t = InitConnectionFailure
		}
		return res.withError(t, err)
	}
	w.log.Infof("connected on %s", w.endpoint)
	w.rearm()
	return res.withValue(true)
}

// disconnect tells subscribers that every polled value is now stale, stops
// the timer and closes the port.
func (w *DeviceWorker) disconnect(res RequestResult, quit bool) RequestResult {
	for _, key := range w.pollKeys() {
		w.emit(resultFor(w.polls[key].req))
	}
	w.stopTicker()
	if quit {
		clear(w.polls)
		w.interval.Store(0)
	}
	if err := w.driver.Close(); err != nil {
		return res.withError(ConnectionFailure, err)
	}
	return res
}

func (w *DeviceWorker) startPoll(req DeviceRequest, res RequestResult) RequestResult {
	param, ok := w.profile.Get(req.Parameter)
	if !ok {
		return res.withError(TaskFailure, fmt.Errorf("%w: %s.%s", ErrUnknownParameter, w.id, req.Parameter))
	}
	if param.Getter == "" {
		return res.withError(TaskFailure, fmt.Errorf("%w: %s.%s cannot be polled", ErrUnknownMethod, w.id, req.Parameter))
	}
	interval, err := pollInterval(req.Value, w.defaultInterval)
	if err != nil {
		return res.withError(TaskFailure, err)
	}
	w.polls[req.Parameter] = pollContext{
		req:      DeviceRequest{DeviceID: w.id, Cmd: Poll, Parameter: req.Parameter},
		interval: interval,
	}
	w.rearm()
	return res.withValue(interval)
}

func (w *DeviceWorker) stopPoll(req DeviceRequest, res RequestResult) RequestResult {
	if req.Parameter == "" {
		clear(w.polls)
	} else {
		delete(w.polls, req.Parameter)
	}
	w.rearm()
	return res
}

// pollInterval reads a START_POLL value: nil, a time.Duration or a number
// of milliseconds.
func pollInterval(v any, def time.Duration) (time.Duration, error) {
	var d time.Duration
	switch x := v.(type) {
	case nil:
		return def, nil
	case time.Duration:
		d = x
	default:
		ms, err := AsFloat(v)
		if err != nil {
			return 0, fmt.Errorf("poll interval: %w", err)
		}
		d = time.Duration(ms * float64(time.Millisecond))
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: poll interval %s", ErrBadArgument, d)
	}
	return d, nil
}

// rearm runs the timer at the minimum interval of all live contexts, so a
// context is served at least as often as it asked for.
func (w *DeviceWorker) rearm() {
	var shortest time.Duration
	for _, pc := range w.polls {
		if shortest == 0 || pc.interval < shortest {
			shortest = pc.interval
		}
	}
	w.interval.Store(int64(shortest))
	if shortest == 0 || w.driver.Status() != Connected {
		w.stopTicker()
		return
	}
	if w.ticker == nil {
		w.ticker = time.NewTicker(shortest)
	} else {
		w.ticker.Reset(shortest)
	}
	w.ticking.Store(true)
}

func (w *DeviceWorker) stopTicker() {
	if w.ticker != nil {
		w.ticker.Stop()
		w.ticker = nil
	}
	w.ticking.Store(false)
}

func (w *DeviceWorker) set(req DeviceRequest, res RequestResult) RequestResult {
	param, ok := w.profile.Get(req.Parameter)
	if !ok {
		return res.withError(TaskFailure, fmt.Errorf("%w: %s.%s", ErrUnknownParameter, w.id, req.Parameter))
	}
	if param.Method == "" {
		return res.withError(TaskFailure, fmt.Errorf("%w: %s.%s", ErrReadOnly, w.id, req.Parameter))
	}
	if req.Value != nil || param.Channels > 0 {
		if err := param.Validate(req.Value); err != nil {
			return res.withError(TaskFailure, err)
		}
	}
	var args []any
	switch v := req.Value.(type) {
	case nil:
	case ChannelValue:
		args = []any{v.Channel, v.Value}
	default:
		args = []any{v}
	}
	if _, err := w.driver.Invoke(param.Method, args...); err != nil {
		return res.withError(classify(err), fmt.Errorf("%s: %w", req.ID(), err))
	}
	return res.withValue(req.Value)
}

func (w *DeviceWorker) poll(req DeviceRequest, res RequestResult) RequestResult {
	param, ok := w.profile.Get(req.Parameter)
	if !ok {
		return res.withError(TaskFailure, fmt.Errorf("%w: %s.%s", ErrUnknownParameter, w.id, req.Parameter))
	}
	if param.Getter == "" {
		return res.withError(TaskFailure, fmt.Errorf("%w: %s.%s cannot be polled", ErrUnknownMethod, w.id, req.Parameter))
	}
	v, err := w.driver.Invoke(param.Getter)
	if err != nil {
		return res.withError(classify(err), fmt.Errorf("%s: %w", req.ID(), err))
	}
	return res.withValue(v)
}

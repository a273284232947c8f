// Copyright (c) 2025 The labsync developers. All rights reserved.
// Project site: https://github.com/hqe-lab/labsync
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labsync

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/hqe-lab/labsync/lib/cache"
)

// Coordinator owns the handlers of all devices. It routes requests by device
// id, commits successful SET and POLL results into the cache and drains every
// device on shutdown.
type Coordinator struct {
	cache    *cache.Cache
	log      logrus.FieldLogger
	handlers map[string]*WorkerHandler
	observe  []func(RequestResult)
	wg       sync.WaitGroup
}

// CoordinatorOption applies an option to a coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger of the coordinator.
func WithCoordinatorLogger(l logrus.FieldLogger) CoordinatorOption {
	return func(c *Coordinator) { c.log = l }
}

// WithObserver registers fn for every result after it has been committed.
// Observers run on the fan-in goroutine of the result's device.
func WithObserver(fn func(RequestResult)) CoordinatorOption {
	return func(c *Coordinator) { c.observe = append(c.observe, fn) }
}

// NewCoordinator returns a coordinator committing into ic.
func NewCoordinator(ic *cache.Cache, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cache:    ic,
		log:      logrus.StandardLogger(),
		handlers: make(map[string]*WorkerHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add registers a handler and creates unknown cache entries for every
// parameter of its device. Add must be called before Start.
func (c *Coordinator) Add(h *WorkerHandler) {
	c.handlers[h.ID()] = h
	c.cache.Init(h.ID(), h.Worker().Profile().Keys()...)
}

// Handler returns the handler of a device.
func (c *Coordinator) Handler(id string) (*WorkerHandler, bool) {
	h, ok := c.handlers[id]
	return h, ok
}

// Devices returns the registered device ids in sorted order.
func (c *Coordinator) Devices() []string {
	ids := make([]string, 0, len(c.handlers))
	for id := range c.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start launches every worker and one fan-in goroutine per device.
func (c *Coordinator) Start(ctx context.Context) {
	for _, id := range c.Devices() {
		h := c.handlers[id]
		h.Start(ctx)
		c.wg.Add(1)
		go c.fanIn(h)
	}
}

func (c *Coordinator) fanIn(h *WorkerHandler) {
	defer c.wg.Done()
	for {
		select {
		case res := <-h.Results():
			c.commit(res)
		case <-h.Finished():
			// The worker is gone; deliver what it left behind.
			for {
				select {
				case res := <-h.Results():
					c.commit(res)
				default:
					return
				}
			}
		}
	}
}

// Send routes req to the handler of its device.
func (c *Coordinator) Send(req DeviceRequest) error {
	h, ok := c.handlers[req.DeviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, req.DeviceID)
	}
	h.Send(req)
	return nil
}

// AutoConnect sends a silent CONNECT to each listed device. Failures come
// back as INIT_CONNECTION results and are only logged.
func (c *Coordinator) AutoConnect(ids ...string) error {
	var errs error
	for _, id := range ids {
		errs = multierr.Append(errs, c.Send(DeviceRequest{DeviceID: id, Cmd: Connect, Silent: true}))
	}
	return errs
}

func (c *Coordinator) commit(res RequestResult) {
	log := c.log.WithFields(logrus.Fields{"device": res.DeviceID, "request": res.RequestID})
	switch {
	case res.ErrType == InitConnectionFailure:
		log.Infof("auto-connect failed: %s", res.Err)
	case res.ErrType == CriticalFailure:
		log.Errorf("%s", res.Err)
	case !res.IsSuccess():
		log.Warnf("%s: %s", res.ErrType, res.Err)
	case res.Cmd == Set && res.Value != nil, res.Cmd == Poll:
		c.store(res)
	}
	for _, fn := range c.observe {
		fn(res)
	}
}

func (c *Coordinator) store(res RequestResult) {
	switch v := res.Value.(type) {
	case nil:
		c.cache.Set(res.DeviceID, res.Parameter, cache.Unknown)
	case ChannelValue:
		c.cache.SetChannel(res.DeviceID, res.Parameter, v.Channel, v.Value)
	default:
		c.cache.Set(res.DeviceID, res.Parameter, v)
	}
}

// Shutdown asks every device to stop polling and quit, then waits until all
// of them have finished or ctx is done. Devices that did not finish in time
// are reported in the returned error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	for _, id := range c.Devices() {
		c.handlers[id].StartShutdown()
	}
	var errs error
	for _, id := range c.Devices() {
		select {
		case <-c.handlers[id].Finished():
			c.log.WithField("device", id).Debug("handler finished")
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("%s did not finish: %w", id, ctx.Err()))
		}
	}
	if errs == nil {
		c.wg.Wait()
	}
	return errs
}

// Package cache keeps the last known value of every instrument parameter and
// tells subscribers when one actually changes.
package cache

import (
	"math"
	"reflect"
	"sort"
	"sync"

	"github.com/hqe-lab/labsync/lib/monitor"
)

// Tolerance is the largest difference between two float values still
// treated as equal.
const Tolerance = 1e-4

type unknown struct{}

func (unknown) String() string { return "unknown" }

// Unknown is returned for parameters that hold no value, and stored for
// polled parameters whose device went away.
var Unknown any = unknown{}

type key struct {
	device, param string
}

// Change describes one committed update. Channel is zero for plain values.
type Change struct {
	Device    string
	Parameter string
	Channel   int
	Value     any
}

// Entry is one row of a snapshot. Indexed entries belong to a multi-channel
// parameter.
type Entry struct {
	Device    string
	Parameter string
	Channel   int
	Indexed   bool
	Value     any
}

// Cache is safe for concurrent use. Subscribers are called in commit order,
// one change at a time, and must not write to the cache themselves.
type Cache struct {
	mu       sync.RWMutex
	values   map[key]any
	notifyMu sync.Mutex
	subs     []func(Change)
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{values: make(map[key]any)}
}

// Subscribe registers fn for every future change.
func (c *Cache) Subscribe(fn func(Change)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.subs = append(c.subs, fn)
}

// Init creates entries holding Unknown for params that have none yet,
// without notifying.
func (c *Cache) Init(device string, params ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range params {
		k := key{device, p}
		if _, ok := c.values[k]; !ok {
			c.values[k] = Unknown
		}
	}
}

// Set stores value for (device, param) and notifies if it differs from the
// stored one. It reports whether the value changed.
func (c *Cache) Set(device, param string, value any) bool {
	k := key{device, param}
	c.mu.Lock()
	old, ok := c.values[k]
	if ok && Equal(old, value) {
		c.mu.Unlock()
		return false
	}
	c.values[k] = value
	c.commit(Change{Device: device, Parameter: param, Value: value})
	return true
}

// SetChannel stores value for one channel of a multi-channel parameter.
// A plain value previously stored under the key is replaced by a channel map.
func (c *Cache) SetChannel(device, param string, channel int, value any) bool {
	k := key{device, param}
	c.mu.Lock()
	chans, ok := c.values[k].(map[int]any)
	if !ok {
		chans = make(map[int]any)
		c.values[k] = chans
	}
	if old, ok := chans[channel]; ok && Equal(old, value) {
		c.mu.Unlock()
		return false
	}
	chans[channel] = value
	c.commit(Change{Device: device, Parameter: param, Channel: channel, Value: value})
	return true
}

// commit is entered with mu held and releases it. The notify lock is taken
// before mu is released so notifications leave in commit order.
func (c *Cache) commit(ch Change) {
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	monitor.CacheUpdates.WithLabelValues(ch.Device).Inc()
	for _, fn := range c.subs {
		fn(ch)
	}
}

// Get returns the stored value or Unknown. Multi-channel parameters come
// back as a copy of their channel map.
func (c *Cache) Get(device, param string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key{device, param}]
	if !ok {
		return Unknown
	}
	if chans, ok := v.(map[int]any); ok {
		out := make(map[int]any, len(chans))
		for ch, cv := range chans {
			out[ch] = cv
		}
		return out
	}
	return v
}

// GetChannel returns the value stored for one channel or Unknown.
func (c *Cache) GetChannel(device, param string, channel int) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chans, ok := c.values[key{device, param}].(map[int]any)
	if !ok {
		return Unknown
	}
	v, ok := chans[channel]
	if !ok {
		return Unknown
	}
	return v
}

// Snapshot returns every stored value, sorted by device, parameter and
// channel. Unknown values are included.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	var out []Entry
	for k, v := range c.values {
		if chans, ok := v.(map[int]any); ok {
			for ch, cv := range chans {
				out = append(out, Entry{Device: k.device, Parameter: k.param, Channel: ch, Indexed: true, Value: cv})
			}
			continue
		}
		out = append(out, Entry{Device: k.device, Parameter: k.param, Value: v})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Device != b.Device {
			return a.Device < b.Device
		}
		if a.Parameter != b.Parameter {
			return a.Parameter < b.Parameter
		}
		return a.Channel < b.Channel
	})
	return out
}

// Restore writes entries back through Set and SetChannel, notifying for
// every value that changes. It returns the number of changed values.
func (c *Cache) Restore(entries []Entry) int {
	n := 0
	for _, e := range entries {
		var changed bool
		if e.Indexed {
			changed = c.SetChannel(e.Device, e.Parameter, e.Channel, e.Value)
		} else {
			changed = c.Set(e.Device, e.Parameter, e.Value)
		}
		if changed {
			n++
		}
	}
	return n
}

// Equal compares two cached values. Float pairs are equal within Tolerance;
// everything else must match exactly.
func Equal(a, b any) bool {
	fa, aok := asFloat(a)
	fb, bok := asFloat(b)
	if aok && bok {
		return math.Abs(fa-fb) < Tolerance
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	}
	return 0, false
}

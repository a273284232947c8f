package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(c *Cache) *[]Change {
	var got []Change
	c.Subscribe(func(ch Change) { got = append(got, ch) })
	return &got
}

func TestSetSameValueNotifiesOnce(t *testing.T) {
	c := New()
	got := collect(c)
	assert.True(t, c.Set("d", "p", 5))
	assert.False(t, c.Set("d", "p", 5))
	assert.Len(t, *got, 1)
}

func TestSetFloatWithinTolerance(t *testing.T) {
	c := New()
	got := collect(c)
	c.Set("d", "p", 1.00001)
	c.Set("d", "p", 1.00002)
	require.Len(t, *got, 1)
	assert.Equal(t, 1.00001, c.Get("d", "p"))
}

func TestSetFloatBeyondTolerance(t *testing.T) {
	c := New()
	got := collect(c)
	c.Set("d", "p", 1.0)
	c.Set("d", "p", 1.1)
	assert.Len(t, *got, 2)
	assert.Equal(t, 1.1, c.Get("d", "p"))
}

func TestGetAbsentIsUnknown(t *testing.T) {
	c := New()
	assert.Equal(t, Unknown, c.Get("d", "missing"))
	assert.Equal(t, Unknown, c.GetChannel("d", "missing", 1))
	assert.Equal(t, "unknown", fmt.Sprint(Unknown))
}

func TestInitDoesNotNotify(t *testing.T) {
	c := New()
	got := collect(c)
	c.Set("d", "a", 1)
	c.Init("d", "a", "b")
	assert.Len(t, *got, 1)
	assert.Equal(t, 1, c.Get("d", "a"))
	assert.Equal(t, Unknown, c.Get("d", "b"))

	// Unknown to a value is a change.
	assert.True(t, c.Set("d", "b", "x"))
}

func TestSetChannel(t *testing.T) {
	c := New()
	got := collect(c)
	assert.True(t, c.SetChannel("gen", "waveform", 1, "sine"))
	assert.True(t, c.SetChannel("gen", "waveform", 2, "square"))
	assert.False(t, c.SetChannel("gen", "waveform", 1, "sine"))
	assert.True(t, c.SetChannel("gen", "frequency", 3, 1000.0))
	assert.False(t, c.SetChannel("gen", "frequency", 3, 1000.00001))

	require.Len(t, *got, 3)
	assert.Equal(t, Change{Device: "gen", Parameter: "waveform", Channel: 2, Value: "square"}, (*got)[1])
	assert.Equal(t, map[int]any{1: "sine", 2: "square"}, c.Get("gen", "waveform"))
	assert.Equal(t, "square", c.GetChannel("gen", "waveform", 2))
	assert.Equal(t, Unknown, c.GetChannel("gen", "waveform", 4))
}

func TestGetReturnsCopyOfChannels(t *testing.T) {
	c := New()
	c.SetChannel("gen", "amplitude", 1, 2.0)
	m := c.Get("gen", "amplitude").(map[int]any)
	m[1] = 99.0
	assert.Equal(t, 2.0, c.GetChannel("gen", "amplitude", 1))
}

func TestSnapshotRestore(t *testing.T) {
	src := New()
	src.Set("Laser1", "temp_power", 42.5)
	src.Set("EcoVario", "speed", 10.0)
	src.SetChannel("TGA1244", "waveform", 2, "triag")
	src.SetChannel("TGA1244", "waveform", 1, "sine")
	src.Init("FSV3000", "span")

	snap := src.Snapshot()
	require.Len(t, snap, 5)
	assert.Equal(t, "EcoVario", snap[0].Device)
	assert.Equal(t, Entry{Device: "TGA1244", Parameter: "waveform", Channel: 1, Indexed: true, Value: "sine"}, snap[3])

	dst := New()
	got := collect(dst)
	assert.Equal(t, 5, dst.Restore(snap))
	assert.Len(t, *got, 5)
	assert.Equal(t, snap, dst.Snapshot())

	// Restoring the same snapshot changes nothing.
	assert.Equal(t, 0, dst.Restore(snap))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(1.0, 1.00009))
	assert.False(t, Equal(1.0, 1.0001))
	assert.True(t, Equal(float32(2), 2.0))
	assert.False(t, Equal(1, 1.0))
	assert.True(t, Equal("a", "a"))
	assert.True(t, Equal(nil, nil))
	assert.True(t, Equal(Unknown, Unknown))
	assert.True(t, Equal([]float64{1, 2}, []float64{1, 2}))
}

func TestConcurrentSetNotifiesInCommitOrder(t *testing.T) {
	c := New()
	var mu sync.Mutex
	last := map[string]int{}
	ordered := true
	c.Subscribe(func(ch Change) {
		mu.Lock()
		defer mu.Unlock()
		v := ch.Value.(int)
		if v <= last[ch.Device] && last[ch.Device] != 0 {
			ordered = false
		}
		last[ch.Device] = v
	})

	var wg sync.WaitGroup
	for d := 0; d < 4; d++ {
		wg.Add(1)
		go func(dev string) {
			defer wg.Done()
			for i := 1; i <= 200; i++ {
				c.Set(dev, "p", i)
			}
		}(fmt.Sprintf("dev%d", d))
	}
	wg.Wait()

	assert.True(t, ordered)
	for d := 0; d < 4; d++ {
		assert.Equal(t, 200, c.Get(fmt.Sprintf("dev%d", d), "p"))
	}
}

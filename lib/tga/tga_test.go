package tga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hqe-lab/labsync"
)

func connected(t *testing.T) (*Driver, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	d := New(labsync.GeneratorID, rec.Opener())
	require.NoError(t, d.Open(labsync.Endpoint{Port: "sim", Baud: 9600}))
	return d, rec
}

func TestChannelCursor(t *testing.T) {
	d, rec := connected(t)

	_, err := d.Invoke("set_waveform", 1, "sine")
	require.NoError(t, err)
	_, err = d.Invoke("set_waveform", 2, "square")
	require.NoError(t, err)
	_, err = d.Invoke("set_frequency", 2, 1000.5)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"WAVE sine",
		"SETUPCH 2",
		"WAVE square",
		"WAVFREQ 1000.5",
	}, rec.Lines())
}

func TestCursorResetsOnOpen(t *testing.T) {
	d, rec := connected(t)
	_, err := d.Invoke("set_phase", 3, 90)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Open(labsync.Endpoint{}))
	rec.Reset()

	_, err = d.Invoke("set_phase", 1, -45.5)
	require.NoError(t, err)
	assert.Equal(t, []string{"PHASE -45.5"}, rec.Lines())
}

func TestOutputSetsLoad(t *testing.T) {
	d, rec := connected(t)
	_, err := d.Invoke("set_output", 1, true)
	require.NoError(t, err)
	_, err = d.Invoke("set_output", 1, "OFF")
	require.NoError(t, err)
	assert.Equal(t, []string{"ZLOAD 50", "OUTPUT ON", "OUTPUT OFF"}, rec.Lines())
}

func TestLockMode(t *testing.T) {
	d, rec := connected(t)
	for _, m := range []string{"master", "slave", "indep", "off"} {
		_, err := d.Invoke("set_lockmode", 1, m)
		require.NoError(t, err, m)
	}
	assert.Equal(t, []string{
		"LOCKMODE MASTER", "LOCKSTAT ON",
		"LOCKMODE SLAVE", "LOCKSTAT ON",
		"LOCKMODE INDEP", "LOCKSTAT ON",
		"LOCKSTAT OFF",
	}, rec.Lines())

	_, err := d.Invoke("set_lockmode", 1, "chaos")
	assert.ErrorIs(t, err, labsync.ErrBadArgument)
}

func TestLevels(t *testing.T) {
	d, rec := connected(t)
	_, err := d.Invoke("set_amplitude", 4, 2.5)
	require.NoError(t, err)
	_, err = d.Invoke("set_offset", 4, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"SETUPCH 4", "AMPL 2.5", "DCOFFS -1"}, rec.Lines())
}

func TestRejects(t *testing.T) {
	d, rec := connected(t)

	_, err := d.Invoke("set_waveform", 1, "sawtooth")
	assert.ErrorIs(t, err, labsync.ErrBadArgument)
	_, err = d.Invoke("set_waveform", 5, "sine")
	assert.ErrorIs(t, err, labsync.ErrOutOfRange)
	_, err = d.Invoke("set_waveform", "sine")
	assert.ErrorIs(t, err, labsync.ErrBadArgument)
	_, err = d.Invoke("set_frequency", 1, "fast")
	assert.ErrorIs(t, err, labsync.ErrBadArgument)
	assert.Empty(t, rec.Lines())

	require.NoError(t, d.Close())
	_, err = d.Invoke("set_phase", 1, 0)
	assert.ErrorIs(t, err, labsync.ErrNotConnected)
}

func TestResolve(t *testing.T) {
	amp, off, err := Resolve(LowHigh, -1, 3)
	require.NoError(t, err)
	assert.Equal(t, 4.0, amp)
	assert.Equal(t, 1.0, off)

	amp, off, err = Resolve(AmpOffset, 2, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2.0, amp)
	assert.Equal(t, 0.5, off)

	_, _, err = Resolve("Peak+Trough", 0, 0)
	assert.ErrorIs(t, err, labsync.ErrBadArgument)
}

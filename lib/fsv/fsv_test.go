package fsv

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hqe-lab/labsync"
)

func open(t *testing.T) (*Driver, *Simulator) {
	t.Helper()
	sim := NewSimulator()
	d := New(labsync.AnalyzerID, sim.Opener())
	require.NoError(t, d.Open(labsync.Endpoint{Address: "TCPIP::192.168.1.20::INSTR"}))
	t.Cleanup(func() { d.Close() })
	return d, sim
}

func TestParseAddress(t *testing.T) {
	for in, want := range map[string]string{
		"TCPIP::192.168.1.20::INSTR":        "192.168.1.20:5025",
		"tcpip0::fsv.lab::INSTR":            "fsv.lab:5025",
		"TCPIP::192.168.1.20::5026::SOCKET": "192.168.1.20:5026",
		"192.168.1.20":                      "192.168.1.20:5025",
		"fsv.lab:6000":                      "fsv.lab:6000",
	} {
		got, err := ParseAddress(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "TCPIP::"} {
		_, err := ParseAddress(in)
		assert.ErrorIs(t, err, labsync.ErrBadArgument, in)
	}
}

func TestOpen(t *testing.T) {
	d, sim := open(t)
	assert.Equal(t, labsync.Connected, d.Status())
	assert.Equal(t, []string{"*CLS"}, sim.Commands())

	var addr string
	d2 := New("x", func(ep labsync.Endpoint) (io.ReadWriteCloser, error) {
		addr = ep.Address
		return nil, errors.New("refused")
	})
	err := d2.Open(labsync.Endpoint{Address: "10.0.0.1"})
	var ce *labsync.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "10.0.0.1:5025", addr)
	assert.Equal(t, labsync.Disconnected, d2.Status())
}

func TestSetters(t *testing.T) {
	d, sim := open(t)
	for _, c := range []struct {
		method string
		arg    any
	}{
		{"set_center_frequency", 2.4e9},
		{"set_span", 1e6},
		{"set_bandwidth", 1000.0},
		{"set_sweep_type", "fft"},
		{"set_unit", "dbm"},
		{"set_sweep_points", 201},
		{"set_avg_count", 16},
	} {
		_, err := d.Invoke(c.method, c.arg)
		require.NoError(t, err, c.method)
	}
	assert.Equal(t, []string{
		"*CLS",
		"FREQuency:CENTer 2400000000;*OPC?",
		"FREQuency:SPAN 1000000;*OPC?",
		"SENSe:BANDwidth 1000;*OPC?",
		"SENSe:SWEep:TYPE FFT;*OPC?",
		"UNIT:POW DBM;*OPC?",
		"SWEep:POINts 201;*OPC?",
		"SENSe:AVERage:COUNt 16;*OPC?",
	}, sim.Commands())
	assert.Equal(t, "FFT", d.sweepType)
	assert.Equal(t, 16, d.avgCount)
}

func TestSetterRejectsBadValues(t *testing.T) {
	d, sim := open(t)
	_, err := d.Invoke("set_sweep_type", "fast")
	assert.ErrorIs(t, err, labsync.ErrBadArgument)
	_, err = d.Invoke("set_unit", "furlong")
	assert.ErrorIs(t, err, labsync.ErrBadArgument)
	assert.Len(t, sim.Commands(), 1)
	assert.Equal(t, defaultSweepType, d.sweepType)
}

func TestSingleMeasurement(t *testing.T) {
	d, sim := open(t)
	require.NoError(t, d.SetSweepPoints(101))
	v, err := d.Invoke("start_single_measurement")
	require.NoError(t, err)
	tr := v.(Trace)
	assert.Equal(t, 101, tr.Count)
	assert.Len(t, tr.Data, 101)
	require.Len(t, tr.Points, 101)
	assert.InDelta(t, 1e9-0.5e6, tr.Points[0], 1e-3)
	assert.InDelta(t, 1e9+0.5e6, tr.Points[100], 1e-3)
	assert.InDelta(t, -20, tr.Data[50], 1e-9)

	cmds := sim.Commands()[2:]
	assert.Equal(t, []string{
		"ABORt;*OPC?",
		"FORMat ASCii;*OPC?",
		"INITiate:CONTinuous OFF;*OPC?",
		"DISPlay:TRACe1:MODE WRITe;*OPC?",
		"SENSe:SWEep:TYPE SWE;*OPC?",
		"INITiate:IMMediate; *WAI;*OPC?",
		"Trace:DATA? TRACe1",
		"Trace:DATA:X? TRACe1",
		"SWEep:POINts?",
	}, cmds)
}

func TestAverageMeasurement(t *testing.T) {
	d, sim := open(t)
	require.NoError(t, d.SetAvgCount(8))
	_, err := d.Invoke("start_avg_measurement")
	require.NoError(t, err)
	cmds := strings.Join(sim.Commands(), "\n")
	assert.Contains(t, cmds, "DISPlay:TRACe1:MODE AVERage;*OPC?")
	assert.Contains(t, cmds, "SWEep:COUNt 8;*OPC?")
}

func TestIdentity(t *testing.T) {
	d, _ := open(t)
	v, err := d.Invoke("get_identity")
	require.NoError(t, err)
	assert.Equal(t, simIdentity, v)
}

func TestMuteAnalyzerTimesOut(t *testing.T) {
	d, sim := open(t)
	sim.Mute = true
	err := d.SetSpan(1e6)
	assert.ErrorIs(t, err, labsync.ErrTimeout)
}

func TestNotConnected(t *testing.T) {
	d := New("x", NewSimulator().Opener())
	assert.ErrorIs(t, d.SetSpan(1), labsync.ErrNotConnected)
	_, err := d.Identity()
	assert.ErrorIs(t, err, labsync.ErrNotConnected)
	assert.NoError(t, d.Close())
}

func TestParseValues(t *testing.T) {
	v, err := ParseValues(" -90.5,-20,1E3\n")
	require.NoError(t, err)
	assert.Equal(t, []float64{-90.5, -20, 1000}, v)
	v, err = ParseValues("")
	require.NoError(t, err)
	assert.Empty(t, v)
	_, err = ParseValues("1,x")
	assert.Error(t, err)
}

// Package tga drives the TTi TGA1244 four-channel arbitrary waveform
// generator over RS232. The device never answers; every command is a line
// written to the currently selected channel.
package tga

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hqe-lab/labsync"
)

// Channels is the number of output channels.
const Channels = 4

var waveforms = map[string]bool{"sine": true, "square": true, "dc": true, "triag": true}

var lockModes = map[string]string{"indep": "INDEP", "master": "MASTER", "slave": "SLAVE", "off": ""}

// Driver keeps a cursor on the last selected channel and only sends a
// channel selection when the target channel differs from it.
type Driver struct {
	id      string
	opener  labsync.Opener
	port    io.ReadWriteCloser
	status  labsync.ConnectionStatus
	current int
	log     logrus.FieldLogger
	methods labsync.Methods
}

type Option func(*Driver)

func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Driver) { d.log = l }
}

func New(id string, opener labsync.Opener, opts ...Option) *Driver {
	d := &Driver{id: id, opener: opener, current: 1, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(d)
	}
	d.methods = labsync.Methods{
		"set_waveform":  d.stringSetter(d.SetWaveform),
		"set_lockmode":  d.stringSetter(d.SetLockMode),
		"set_frequency": d.floatSetter(d.SetFrequency),
		"set_amplitude": d.floatSetter(d.SetAmplitude),
		"set_offset":    d.floatSetter(d.SetOffset),
		"set_phase":     d.floatSetter(d.SetPhase),
		"set_output": func(args ...any) (any, error) {
			ch, v, err := channelArgs(args)
			if err != nil {
				return nil, err
			}
			on, err := labsync.AsBool(v)
			if err != nil {
				return nil, err
			}
			return nil, d.SetOutput(ch, on)
		},
	}
	return d
}

func channelArgs(args []any) (int, any, error) {
	if len(args) != 2 {
		return 0, nil, fmt.Errorf("%w: want (channel, value), got %d arguments", labsync.ErrBadArgument, len(args))
	}
	ch, err := labsync.AsInt(args[0])
	if err != nil {
		return 0, nil, err
	}
	return ch, args[1], nil
}

func (d *Driver) stringSetter(fn func(int, string) error) labsync.Method {
	return func(args ...any) (any, error) {
		ch, v, err := channelArgs(args)
		if err != nil {
			return nil, err
		}
		s, err := labsync.AsString(v)
		if err != nil {
			return nil, err
		}
		return nil, fn(ch, s)
	}
}

func (d *Driver) floatSetter(fn func(int, float64) error) labsync.Method {
	return func(args ...any) (any, error) {
		ch, v, err := channelArgs(args)
		if err != nil {
			return nil, err
		}
		f, err := labsync.AsFloat(v)
		if err != nil {
			return nil, err
		}
		return nil, fn(ch, f)
	}
}

// Open opens the port. The channel cursor starts at channel 1.
func (d *Driver) Open(ep labsync.Endpoint) error {
	port, err := d.opener(ep)
	if err != nil {
		return &labsync.ConnectionError{DeviceID: d.id, Err: err}
	}
	d.port = port
	d.current = 1
	d.status = labsync.Connected
	return nil
}

func (d *Driver) Close() error {
	if d.status != labsync.Connected {
		return nil
	}
	d.status = labsync.Disconnected
	err := d.port.Close()
	d.port = nil
	return err
}

func (d *Driver) Status() labsync.ConnectionStatus { return d.status }

func (d *Driver) Invoke(name string, args ...any) (any, error) {
	return d.methods.Call(name, args...)
}

// SetWaveform selects sine, square, dc or triag.
func (d *Driver) SetWaveform(ch int, wave string) error {
	wave = strings.ToLower(wave)
	if !waveforms[wave] {
		return fmt.Errorf("%w: waveform %q", labsync.ErrBadArgument, wave)
	}
	return d.write(ch, "WAVE", wave)
}

// SetFrequency sets the waveform frequency in Hz.
func (d *Driver) SetFrequency(ch int, hz float64) error {
	return d.write(ch, "WAVFREQ", labsync.FormatFloat(hz))
}

// SetAmplitude sets the amplitude in V. The value must already be resolved
// from the channel's input mode, see Resolve.
func (d *Driver) SetAmplitude(ch int, v float64) error {
	return d.write(ch, "AMPL", labsync.FormatFloat(v))
}

// SetOffset sets the DC offset in V, resolved like the amplitude.
func (d *Driver) SetOffset(ch int, v float64) error {
	return d.write(ch, "DCOFFS", labsync.FormatFloat(v))
}

// SetPhase sets the phase in degrees.
func (d *Driver) SetPhase(ch int, deg float64) error {
	return d.write(ch, "PHASE", labsync.FormatFloat(deg))
}

// SetLockMode sets the phase lock role: indep, master, slave or off.
func (d *Driver) SetLockMode(ch int, mode string) error {
	mode = strings.ToLower(mode)
	word, ok := lockModes[mode]
	if !ok {
		return fmt.Errorf("%w: lock mode %q", labsync.ErrBadArgument, mode)
	}
	if word == "" {
		return d.write(ch, "LOCKSTAT", "OFF")
	}
	if err := d.write(ch, "LOCKMODE", word); err != nil {
		return err
	}
	return d.write(ch, "LOCKSTAT", "ON")
}

// SetOutput switches the channel output. Switching on also sets a 50 Ω
// load.
func (d *Driver) SetOutput(ch int, on bool) error {
	if !on {
		return d.write(ch, "OUTPUT", "OFF")
	}
	if err := d.write(ch, "ZLOAD", "50"); err != nil {
		return err
	}
	return d.write(ch, "OUTPUT", "ON")
}

func (d *Driver) write(ch int, what, value string) error {
	if d.status != labsync.Connected {
		return labsync.ErrNotConnected
	}
	if ch < 1 || ch > Channels {
		return fmt.Errorf("%w: channel %d not in 1-%d", labsync.ErrOutOfRange, ch, Channels)
	}
	if ch != d.current {
		if _, err := fmt.Fprintf(d.port, "SETUPCH %d\n", ch); err != nil {
			return err
		}
		d.current = ch
	}
	_, err := fmt.Fprintf(d.port, "%s %s\n", what, value)
	return err
}

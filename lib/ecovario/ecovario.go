// Package ecovario drives EcoVario linear stages through the EcoVario
// controller's binary SDO protocol over a serial line.
package ecovario

import (
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/hqe-lab/labsync"
)

// Object dictionary entries used by the driver.
const (
	ObjControlWord    uint16 = 0x6040
	ObjStatusWord     uint16 = 0x6041
	ObjErrorCode      uint16 = 0x603F
	ObjOperatingMode  uint16 = 0x6060
	ObjActualPosition uint16 = 0x6063
	ObjTargetPosition uint16 = 0x607A
	ObjSpeed          uint16 = 0x6081
	ObjAcceleration   uint16 = 0x6083
	ObjDeceleration   uint16 = 0x6084
	ObjHomingMethod   uint16 = 0x6098
)

// Control words.
const (
	CtrlStart      = 0x003F
	CtrlStop       = 0x0037
	CtrlResetError = 0x01AF
	CtrlEnable     = 0x000F
	CtrlHome       = 0x001F
)

const (
	homingMethod  = 0x11
	modeHoming    = 0x6
	defaultNodeID = 0x01
)

// Encoder scale factors: physical unit per encoder count.
const (
	PositionScale     = 0.001253258 // mm
	SpeedScale        = 0.000019585 // mm/s
	AccelerationScale = 0.020059880 // mm/s²
)

// Driver talks to one stage controller. It is not safe for concurrent use.
type Driver struct {
	id      string
	node    byte
	opener  labsync.Opener
	port    io.ReadWriteCloser
	status  labsync.ConnectionStatus
	log     logrus.FieldLogger
	methods labsync.Methods
}

type Option func(*Driver)

// WithNodeID sets the SDO node id of the controller.
func WithNodeID(id byte) Option {
	return func(d *Driver) { d.node = id }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Driver) { d.log = l }
}

// New returns a disconnected driver that opens its port through opener.
func New(id string, opener labsync.Opener, opts ...Option) *Driver {
	d := &Driver{
		id:     id,
		node:   defaultNodeID,
		opener: opener,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.methods = labsync.Methods{
		"set_position":        d.floatSetter(d.SetPosition),
		"set_speed":           d.floatSetter(d.SetSpeed),
		"set_acceleration":    d.floatSetter(d.SetAcceleration),
		"set_deacceleration":  d.floatSetter(d.SetDeceleration),
		"set_control_word":    d.setControlWord,
		"start":               d.fire(d.Start),
		"stop":                d.fire(d.Stop),
		"home_stage":          d.fire(d.Home),
		"reset_current_error": d.fire(d.ResetError),
		"get_current_position": func(...any) (any, error) {
			return d.CurrentPosition()
		},
		"get_status_word": func(...any) (any, error) {
			return d.StatusWord()
		},
		"get_current_error": func(...any) (any, error) {
			return d.CurrentError()
		},
	}
	return d
}

func (d *Driver) floatSetter(fn func(float64) error) labsync.Method {
	return func(args ...any) (any, error) {
		a, err := labsync.Arg(args, 0)
		if err != nil {
			return nil, err
		}
		f, err := labsync.AsFloat(a)
		if err != nil {
			return nil, err
		}
		return nil, fn(f)
	}
}

func (d *Driver) fire(fn func() error) labsync.Method {
	return func(...any) (any, error) { return nil, fn() }
}

func (d *Driver) setControlWord(args ...any) (any, error) {
	a, err := labsync.Arg(args, 0)
	if err != nil {
		return nil, err
	}
	w, err := labsync.AsInt(a)
	if err != nil {
		return nil, err
	}
	return nil, d.SetControlWord(w)
}

// Open opens the serial port. The status changes only on success.
func (d *Driver) Open(ep labsync.Endpoint) error {
	port, err := d.opener(ep)
	if err != nil {
		return &labsync.ConnectionError{DeviceID: d.id, Err: err}
	}
	d.port = port
	d.status = labsync.Connected
	return nil
}

// Close closes the port. It is a no-op when not connected.
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

// SetPosition sets the target position in mm.
func (d *Driver) SetPosition(mm float64) error {
	return d.writeScaled(ObjTargetPosition, mm, PositionScale)
}

// SetSpeed sets the travel speed in mm/s.
func (d *Driver) SetSpeed(mms float64) error {
	return d.writeScaled(ObjSpeed, mms, SpeedScale)
}

// SetAcceleration sets the acceleration in mm/s².
func (d *Driver) SetAcceleration(a float64) error {
	return d.writeScaled(ObjAcceleration, a, AccelerationScale)
}

// SetDeceleration sets the deceleration in mm/s².
func (d *Driver) SetDeceleration(a float64) error {
	return d.writeScaled(ObjDeceleration, a, AccelerationScale)
}

func (d *Driver) SetControlWord(w int) error {
	if w < 0 || w > 0xFFFF {
		return fmt.Errorf("%w: control word %#x", labsync.ErrOutOfRange, w)
	}
	return d.write(ObjControlWord, int32(w))
}

// Start moves to the last target position.
func (d *Driver) Start() error { return d.write(ObjControlWord, CtrlStart) }

// Stop halts all movement.
func (d *Driver) Stop() error { return d.write(ObjControlWord, CtrlStop) }

// ResetError clears the latched error so the stage can move again.
func (d *Driver) ResetError() error { return d.write(ObjControlWord, CtrlResetError) }

// Home enables the drive and runs the homing sequence.
func (d *Driver) Home() error {
	steps := []struct {
		obj uint16
		val int32
	}{
		{ObjControlWord, CtrlEnable},
		{ObjHomingMethod, homingMethod},
		{ObjOperatingMode, modeHoming},
		{ObjControlWord, CtrlHome},
	}
	for _, s := range steps {
		if err := d.write(s.obj, s.val); err != nil {
			return fmt.Errorf("homing: %w", err)
		}
	}
	return nil
}

// CurrentPosition returns the actual position in mm.
func (d *Driver) CurrentPosition() (float64, error) {
	p, err := d.read(ObjActualPosition)
	if err != nil {
		return 0, err
	}
	v, err := Decode(p)
	if err != nil {
		return 0, err
	}
	return float64(v) * PositionScale, nil
}

// StatusWord returns the status word as hex digits.
func (d *Driver) StatusWord() (string, error) {
	return d.read(ObjStatusWord)
}

// CurrentError returns the last error code as hex digits.
func (d *Driver) CurrentError() (string, error) {
	return d.read(ObjErrorCode)
}

func (d *Driver) writeScaled(obj uint16, v, scale float64) error {
	counts := math.Round(v / scale)
	if counts > math.MaxInt32 || counts < math.MinInt32 {
		return fmt.Errorf("%w: %v does not fit the encoder range", labsync.ErrOutOfRange, v)
	}
	return d.write(obj, int32(counts))
}

// write sends a write request. The reply only acknowledges it and is
// discarded.
func (d *Driver) write(obj uint16, v int32) error {
	if d.status != labsync.Connected {
		return labsync.ErrNotConnected
	}
	if _, err := d.port.Write(WriteFrame(d.node, obj, v)); err != nil {
		return fmt.Errorf("write %#04x: %w", obj, err)
	}
	if _, err := d.response(); err != nil {
		return fmt.Errorf("write %#04x: %w", obj, err)
	}
	return nil
}

func (d *Driver) read(obj uint16) (string, error) {
	if d.status != labsync.Connected {
		return "", labsync.ErrNotConnected
	}
	if _, err := d.port.Write(ReadFrame(d.node, obj)); err != nil {
		return "", fmt.Errorf("read %#04x: %w", obj, err)
	}
	resp, err := d.response()
	if err != nil {
		return "", fmt.Errorf("read %#04x: %w", obj, err)
	}
	p, err := Payload(resp)
	if err != nil {
		return "", fmt.Errorf("read %#04x: %w", obj, err)
	}
	return p, nil
}

// response reads one fixed-size reply. A read returning nothing means the
// port's read timeout expired.
func (d *Driver) response() ([]byte, error) {
	buf := make([]byte, ResponseLen)
	n := 0
	for n < len(buf) {
		m, err := d.port.Read(buf[n:])
		n += m
		if err != nil {
			return nil, fmt.Errorf("after %d bytes: %w", n, err)
		}
		if m == 0 {
			return nil, fmt.Errorf("%w: got %d of %d bytes", labsync.ErrTimeout, n, len(buf))
		}
	}
	return buf, nil
}

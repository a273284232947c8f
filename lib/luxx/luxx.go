// Package luxx drives Omicron LuxX+ diode lasers over their ASCII serial
// protocol. Every exchange is a query: "?" plus command and value, answered
// by a line whose first four characters echo the command.
package luxx

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hqe-lab/labsync"
)

const (
	terminator = '\r'
	prefixLen  = 4
	ack        = ">"

	defaultQueryDelay   = 100 * time.Millisecond
	defaultResetTimeout = 10 * time.Second
	resetPoll           = 100 * time.Millisecond

	// standbyNoAdHoc is the operating mode word set after power on.
	standbyNoAdHoc = "8000"
)

// MaxTempPower is the upper limit of the temporary power in percent.
const MaxTempPower = 100.0

// Operating mode indices accepted by SetOpMode. The modulation modes only
// run under automatic current control.
const (
	ModeStandby = iota
	ModeCWACC
	ModeCWAPC
	ModeAnalogACC
	ModeDigitalACC
	ModeAnalogDigitalACC
)

type Driver struct {
	id      string
	opener  labsync.Opener
	port    io.ReadWriteCloser
	pending []byte
	status  labsync.ConnectionStatus
	log     logrus.FieldLogger
	methods labsync.Methods

	queryDelay   time.Duration
	resetTimeout time.Duration
	now          func() time.Time
	sleep        func(time.Duration)

	firmware []string
	specs    []string
	maxPower float64
}

type Option func(*Driver)

// WithQueryDelay sets the pause between writing a query and reading its
// answer.
func WithQueryDelay(d time.Duration) Option {
	return func(dr *Driver) { dr.queryDelay = d }
}

// WithResetTimeout bounds how long Reset waits for the controller.
func WithResetTimeout(d time.Duration) Option {
	return func(dr *Driver) { dr.resetTimeout = d }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Driver) { d.log = l }
}

func New(id string, opener labsync.Opener, opts ...Option) *Driver {
	d := &Driver{
		id:           id,
		opener:       opener,
		log:          logrus.StandardLogger(),
		queryDelay:   defaultQueryDelay,
		resetTimeout: defaultResetTimeout,
		now:          time.Now,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.WithField("device", id)
	d.methods = labsync.Methods{
		"set_power": func(args ...any) (any, error) {
			f, err := floatArg(args)
			if err != nil {
				return nil, err
			}
			return nil, d.SetPower(f)
		},
		"set_temp_power": func(args ...any) (any, error) {
			f, err := floatArg(args)
			if err != nil {
				return nil, err
			}
			return nil, d.SetTempPower(f)
		},
		"set_op_mode": func(args ...any) (any, error) {
			a, err := labsync.Arg(args, 0)
			if err != nil {
				return nil, err
			}
			m, err := labsync.AsInt(a)
			if err != nil {
				return nil, err
			}
			return nil, d.SetOpMode(m)
		},
		"set_emission": func(args ...any) (any, error) {
			a, err := labsync.Arg(args, 0)
			if err != nil {
				return nil, err
			}
			on, err := labsync.AsBool(a)
			if err != nil {
				return nil, err
			}
			return nil, d.SetEmission(on)
		},
		"reset_controller": func(...any) (any, error) { return nil, d.Reset() },
		"get_power":        func(...any) (any, error) { return d.Power() },
		"get_temp_power":   func(...any) (any, error) { return d.TempPower() },
		"get_op_mode":      func(...any) (any, error) { return d.OpMode() },
		"get_error_code":   func(...any) (any, error) { return d.ErrorCode() },
		"get_firmware":     func(...any) (any, error) { return d.Firmware() },
		"get_specs":        func(...any) (any, error) { return d.Specs() },
		"get_max_power":    func(...any) (any, error) { return d.MaxPower() },
	}
	return d
}

func floatArg(args []any) (float64, error) {
	a, err := labsync.Arg(args, 0)
	if err != nil {
		return 0, err
	}
	return labsync.AsFloat(a)
}

// Open opens the port, reads the device identity and puts the laser into
// standby with ad-hoc mode off. Any failure closes the port again.
func (d *Driver) Open(ep labsync.Endpoint) error {
	port, err := d.opener(ep)
	if err != nil {
		return &labsync.ConnectionError{DeviceID: d.id, Err: err}
	}
	d.port = port
	d.pending = nil
	d.status = labsync.Connected

	if err := d.bringUp(); err != nil {
		d.status = labsync.Disconnected
		port.Close()
		d.port = nil
		return &labsync.ConnectionError{DeviceID: d.id, Err: err}
	}
	return nil
}

func (d *Driver) bringUp() error {
	var err error
	if d.firmware, err = d.ask("GFw|"); err != nil {
		return fmt.Errorf("firmware: %w", err)
	}
	if d.specs, err = d.ask("GSI"); err != nil {
		return fmt.Errorf("specs: %w", err)
	}
	mp, err := d.ask("GMP")
	if err != nil {
		return fmt.Errorf("max power: %w", err)
	}
	if d.maxPower, err = strconv.ParseFloat(mp[0], 64); err != nil {
		return fmt.Errorf("max power %q: %w", mp[0], err)
	}
	d.log.Infof("firmware %s, max power %s mW", strings.Join(d.firmware, " "), labsync.FormatFloat(d.maxPower))

	on, err := d.ask("POn")
	if err != nil {
		return fmt.Errorf("power on: %w", err)
	}
	if on[0] != ack {
		d.log.Warnf("power on answered %q, resetting controller", on[0])
		if err := d.Reset(); err != nil {
			return err
		}
	}
	return d.set("SOM", standbyNoAdHoc)
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

// SetPower sets the permanent power in mW. It survives a reboot of the
// laser, so prefer SetTempPower for routine changes.
func (d *Driver) SetPower(mw float64) error {
	if mw < 0 || (d.maxPower > 0 && mw > d.maxPower) {
		return fmt.Errorf("%w: power %s mW not in [0, %s]", labsync.ErrOutOfRange,
			labsync.FormatFloat(mw), labsync.FormatFloat(d.maxPower))
	}
	return d.set("SLP", formatValue(mw))
}

// SetTempPower sets the temporary power in percent of the maximum.
func (d *Driver) SetTempPower(pct float64) error {
	if pct < 0 || pct > MaxTempPower {
		return fmt.Errorf("%w: temporary power %s not in [0, 100]", labsync.ErrOutOfRange, labsync.FormatFloat(pct))
	}
	return d.set("TPP", formatValue(pct))
}

// SetOpMode selects one of the operating mode indices.
func (d *Driver) SetOpMode(mode int) error {
	if mode < ModeStandby || mode > ModeAnalogDigitalACC {
		return fmt.Errorf("%w: operating mode %d not in [0, 5]", labsync.ErrOutOfRange, mode)
	}
	return d.set("ROM", strconv.Itoa(mode))
}

// SetEmission switches the laser emission.
func (d *Driver) SetEmission(on bool) error {
	cmd := "LOf"
	if on {
		cmd = "LOn"
	}
	r, err := d.ask(cmd)
	if err != nil {
		return err
	}
	if r[0] != ack {
		return fmt.Errorf("%w: %s answered %q", labsync.ErrRejected, cmd, r[0])
	}
	return nil
}

// Power returns the permanent power in mW.
func (d *Driver) Power() (float64, error) { return d.askFloat("GLP") }

// TempPower returns the temporary power in percent.
func (d *Driver) TempPower() (float64, error) { return d.askFloat("TTP") }

// OpMode returns the operating mode index.
func (d *Driver) OpMode() (int, error) {
	r, err := d.ask("ROM")
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(r[0])
	if err != nil {
		return 0, fmt.Errorf("%w: ROM answered %q", labsync.ErrRejected, r[0])
	}
	return m, nil
}

// ErrorCode returns the latched error byte as the device reports it.
func (d *Driver) ErrorCode() (string, error) {
	r, err := d.ask("GLF")
	if err != nil {
		return "", err
	}
	return r[0], nil
}

// Firmware returns the identity fields read while connecting.
func (d *Driver) Firmware() (string, error) {
	if d.status != labsync.Connected {
		return "", labsync.ErrNotConnected
	}
	return strings.Join(d.firmware, " "), nil
}

// Specs returns the wavelength and power specification read while
// connecting.
func (d *Driver) Specs() (string, error) {
	if d.status != labsync.Connected {
		return "", labsync.ErrNotConnected
	}
	return strings.Join(d.specs, " "), nil
}

// MaxPower returns the maximum power in mW read while connecting.
func (d *Driver) MaxPower() (float64, error) {
	if d.status != labsync.Connected {
		return 0, labsync.ErrNotConnected
	}
	return d.maxPower, nil
}

// Reset reboots the controller and waits until it reports back. The laser
// does not answer anything else meanwhile.
func (d *Driver) Reset() error {
	if d.status != labsync.Connected {
		return labsync.ErrNotConnected
	}
	d.pending = nil
	if err := d.write("?RsC"); err != nil {
		return err
	}
	deadline := d.now().Add(d.resetTimeout)
	for d.now().Before(deadline) {
		line, err := d.readLine()
		if err == nil && strings.TrimSpace(line) == "!RsC>" {
			return nil
		}
		d.sleep(resetPoll)
	}
	return fmt.Errorf("%w: controller reset not confirmed within %s", labsync.ErrTimeout, d.resetTimeout)
}

func (d *Driver) askFloat(cmd string) (float64, error) {
	r, err := d.ask(cmd)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(r[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s answered %q", labsync.ErrRejected, cmd, r[0])
	}
	return f, nil
}

// ask sends a query and returns the "|" separated fields of the answer.
func (d *Driver) ask(cmd string) ([]string, error) {
	r, err := d.query("?" + cmd)
	if err != nil {
		return nil, err
	}
	return strings.Split(r, "|"), nil
}

// set sends a value and checks for the acknowledge.
func (d *Driver) set(what, value string) error {
	r, err := d.query("?" + what + value)
	if err != nil {
		return err
	}
	if r != ack {
		return fmt.Errorf("%w: %s%s answered %q", labsync.ErrRejected, what, value, r)
	}
	return nil
}

// query writes q and returns the answer with its echo prefix removed.
func (d *Driver) query(q string) (string, error) {
	if d.status != labsync.Connected {
		return "", labsync.ErrNotConnected
	}
	if err := d.write(q); err != nil {
		return "", err
	}
	if d.queryDelay > 0 {
		d.sleep(d.queryDelay)
	}
	line, err := d.readLine()
	if err != nil {
		return "", fmt.Errorf("%s: %w", q, err)
	}
	if len(line) < prefixLen {
		return "", fmt.Errorf("%w: %s answered %q", labsync.ErrRejected, q, line)
	}
	return line[prefixLen:], nil
}

func (d *Driver) write(s string) error {
	_, err := d.port.Write([]byte(s + string(terminator)))
	return err
}

// readLine returns the next answer without its terminator. A read returning
// nothing means the port's read timeout expired.
func (d *Driver) readLine() (string, error) {
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(d.pending, terminator); i >= 0 {
			line := string(d.pending[:i])
			d.pending = d.pending[i+1:]
			return line, nil
		}
		n, err := d.port.Read(buf)
		d.pending = append(d.pending, buf[:n]...)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", fmt.Errorf("%w: no answer", labsync.ErrTimeout)
		}
	}
}

// formatValue renders a number with at least one decimal.
func formatValue(f float64) string {
	s := labsync.FormatFloat(f)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

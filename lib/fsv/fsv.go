// Package fsv drives Rohde & Schwarz FSV3000 spectrum analyzers through SCPI
// over a raw TCP socket.
package fsv

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/query"
	"github.com/sirupsen/logrus"

	"github.com/hqe-lab/labsync"
	"github.com/hqe-lab/labsync/lib/scpi"
)

// DefaultPort is the analyzer's raw SCPI socket.
const DefaultPort = "5025"

const (
	defaultTimeout    = 5 * time.Second
	defaultOPCTimeout = 10 * time.Second
	defaultSweepType  = "SWE"
	defaultAvgCount   = 64
)

var sweepTypes = map[string]bool{"SWE": true, "FFT": true, "AUTO": true}

var units = map[string]bool{"DBM": true, "V": true, "A": true, "W": true, "DBPW": true, "DBMV": true, "DBUV": true, "DBUA": true}

// Trace is one measured spectrum.
type Trace struct {
	Data   []float64 // level per point, in the configured unit
	Points []float64 // frequency per point, Hz
	Count  int       // sweep points reported by the analyzer
}

type Driver struct {
	id         string
	opener     labsync.Opener
	conn       io.ReadWriteCloser
	client     *scpi.Client
	status     labsync.ConnectionStatus
	log        logrus.FieldLogger
	methods    labsync.Methods
	timeout    time.Duration
	opcTimeout time.Duration

	sweepType string
	avgCount  int
}

type Option func(*Driver)

func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Driver) { d.log = l }
}

// WithTimeouts sets the deadlines for plain and OPC-synchronised commands.
func WithTimeouts(plain, opc time.Duration) Option {
	return func(d *Driver) {
		d.timeout = plain
		d.opcTimeout = opc
	}
}

func New(id string, opener labsync.Opener, opts ...Option) *Driver {
	d := &Driver{
		id:         id,
		opener:     opener,
		log:        logrus.StandardLogger(),
		timeout:    defaultTimeout,
		opcTimeout: defaultOPCTimeout,
		sweepType:  defaultSweepType,
		avgCount:   defaultAvgCount,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.methods = labsync.Methods{
		"set_center_frequency": d.floatSetter(d.SetCenterFrequency),
		"set_span":             d.floatSetter(d.SetSpan),
		"set_bandwidth":        d.floatSetter(d.SetBandwidth),
		"set_sweep_points":     d.intSetter(d.SetSweepPoints),
		"set_avg_count":        d.intSetter(d.SetAvgCount),
		"set_sweep_type":       d.stringSetter(d.SetSweepType),
		"set_unit":             d.stringSetter(d.SetUnit),
		"start_single_measurement": func(...any) (any, error) {
			return d.SingleMeasurement()
		},
		"start_avg_measurement": func(...any) (any, error) {
			return d.AverageMeasurement()
		},
		"get_identity": func(...any) (any, error) {
			return d.Identity()
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

func (d *Driver) intSetter(fn func(int) error) labsync.Method {
	return func(args ...any) (any, error) {
		a, err := labsync.Arg(args, 0)
		if err != nil {
			return nil, err
		}
		i, err := labsync.AsInt(a)
		if err != nil {
			return nil, err
		}
		return nil, fn(i)
	}
}

func (d *Driver) stringSetter(fn func(string) error) labsync.Method {
	return func(args ...any) (any, error) {
		a, err := labsync.Arg(args, 0)
		if err != nil {
			return nil, err
		}
		s, err := labsync.AsString(a)
		if err != nil {
			return nil, err
		}
		return nil, fn(s)
	}
}

// ParseAddress accepts host, host:port or a VISA resource string such as
// TCPIP::192.168.1.20::INSTR or TCPIP::192.168.1.20::5025::SOCKET and
// returns host:port.
func ParseAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", labsync.ErrBadArgument)
	}
	if strings.HasPrefix(strings.ToUpper(addr), "TCPIP") {
		parts := strings.Split(addr, "::")
		if len(parts) < 2 || parts[1] == "" {
			return "", fmt.Errorf("%w: VISA resource %q", labsync.ErrBadArgument, addr)
		}
		port := DefaultPort
		if len(parts) == 4 && strings.EqualFold(parts[3], "SOCKET") {
			port = parts[2]
		}
		return net.JoinHostPort(parts[1], port), nil
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr, nil
	}
	return net.JoinHostPort(addr, DefaultPort), nil
}

// Open connects and clears the status registers.
func (d *Driver) Open(ep labsync.Endpoint) error {
	addr, err := ParseAddress(ep.Address)
	if err != nil {
		return &labsync.ConnectionError{DeviceID: d.id, Err: err}
	}
	conn, err := d.opener(labsync.Endpoint{Address: addr})
	if err != nil {
		return &labsync.ConnectionError{DeviceID: d.id, Err: err}
	}
	client := scpi.NewClient(conn, scpi.WithTimeout(d.timeout), scpi.WithOPCTimeout(d.opcTimeout))
	if err := client.Command("*CLS"); err != nil {
		conn.Close()
		return &labsync.ConnectionError{DeviceID: d.id, Err: err}
	}
	d.conn, d.client = conn, client
	d.status = labsync.Connected
	return nil
}

func (d *Driver) Close() error {
	if d.status != labsync.Connected {
		return nil
	}
	d.status = labsync.Disconnected
	err := d.conn.Close()
	d.conn, d.client = nil, nil
	return err
}

func (d *Driver) Status() labsync.ConnectionStatus { return d.status }

func (d *Driver) Invoke(name string, args ...any) (any, error) {
	return d.methods.Call(name, args...)
}

func (d *Driver) SetCenterFrequency(hz float64) error {
	return d.opc("FREQuency:CENTer %s", labsync.FormatFloat(hz))
}

func (d *Driver) SetSpan(hz float64) error {
	return d.opc("FREQuency:SPAN %s", labsync.FormatFloat(hz))
}

// SetBandwidth sets the resolution bandwidth in Hz.
func (d *Driver) SetBandwidth(hz float64) error {
	return d.opc("SENSe:BANDwidth %s", labsync.FormatFloat(hz))
}

// SetSweepType selects SWE, FFT or AUTO. Measurements use the last value
// set.
func (d *Driver) SetSweepType(t string) error {
	t = strings.ToUpper(strings.TrimSpace(t))
	if !sweepTypes[t] {
		return fmt.Errorf("%w: sweep type %q", labsync.ErrBadArgument, t)
	}
	if err := d.opc("SENSe:SWEep:TYPE %s", t); err != nil {
		return err
	}
	d.sweepType = t
	return nil
}

// SetUnit sets the level unit of the y axis.
func (d *Driver) SetUnit(u string) error {
	u = strings.ToUpper(strings.TrimSpace(u))
	if !units[u] {
		return fmt.Errorf("%w: unit %q", labsync.ErrBadArgument, u)
	}
	return d.opc("UNIT:POW %s", u)
}

func (d *Driver) SetSweepPoints(n int) error {
	return d.opc("SWEep:POINts %d", n)
}

// SetAvgCount sets the number of sweeps averaged by AverageMeasurement.
func (d *Driver) SetAvgCount(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: average count %d", labsync.ErrOutOfRange, n)
	}
	if err := d.opc("SENSe:AVERage:COUNt %d", n); err != nil {
		return err
	}
	d.avgCount = n
	return nil
}

// Identity returns the *IDN? answer.
func (d *Driver) Identity() (string, error) {
	if d.status != labsync.Connected {
		return "", labsync.ErrNotConnected
	}
	return query.String(d.client, "*IDN?")
}

// SingleMeasurement runs one sweep and reads the trace.
func (d *Driver) SingleMeasurement() (Trace, error) {
	return d.measure("WRITe", 0)
}

// AverageMeasurement runs the configured number of sweeps in averaging mode
// and reads the averaged trace.
func (d *Driver) AverageMeasurement() (Trace, error) {
	return d.measure("AVERage", d.avgCount)
}

func (d *Driver) measure(mode string, count int) (Trace, error) {
	steps := []string{
		"ABORt",
		"FORMat ASCii",
		"INITiate:CONTinuous OFF",
		"DISPlay:TRACe1:MODE " + mode,
		"SENSe:SWEep:TYPE " + d.sweepType,
	}
	if mode == "AVERage" {
		steps = append(steps, "SWEep:COUNt "+strconv.Itoa(count))
	}
	steps = append(steps, "INITiate:IMMediate; *WAI")
	for _, s := range steps {
		if err := d.opc(s); err != nil {
			return Trace{}, fmt.Errorf("measurement: %w", err)
		}
	}

	var tr Trace
	raw, err := query.String(d.client, "Trace:DATA? TRACe1")
	if err != nil {
		return Trace{}, err
	}
	if tr.Data, err = ParseValues(raw); err != nil {
		return Trace{}, fmt.Errorf("trace data: %w", err)
	}
	raw, err = query.String(d.client, "Trace:DATA:X? TRACe1")
	if err != nil {
		return Trace{}, err
	}
	if tr.Points, err = ParseValues(raw); err != nil {
		return Trace{}, fmt.Errorf("trace points: %w", err)
	}
	if tr.Count, err = query.Int(d.client, "SWEep:POINts?"); err != nil {
		return Trace{}, err
	}
	if len(tr.Data) != tr.Count || len(tr.Points) != tr.Count {
		d.log.WithField("device", d.id).Warnf("trace has %d values and %d points, analyzer reports %d",
			len(tr.Data), len(tr.Points), tr.Count)
	}
	return tr, nil
}

func (d *Driver) opc(format string, a ...any) error {
	if d.status != labsync.Connected {
		return labsync.ErrNotConnected
	}
	return d.client.CommandOPC(format, a...)
}

// ParseValues splits a comma separated ASCII trace.
func ParseValues(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

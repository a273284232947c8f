// Package connutil opens the byte streams drivers talk over: serial ports
// through either of two serial libraries, and TCP sockets.
package connutil

import (
	"flag"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	jserial "github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.uber.org/multierr"

	"github.com/hqe-lab/labsync"
	"github.com/hqe-lab/labsync/lib/cmdlog"
	"github.com/hqe-lab/labsync/lib/find"
)

// Backend names a serial library.
type Backend string

const (
	BugST   Backend = "bugst"
	Jacobsa Backend = "jacobsa"
)

// USBPrefix marks a port given as the serial number of a USB adapter.
const USBPrefix = "usb:"

const (
	defaultReadTimeout = time.Second
	defaultDialTimeout = 5 * time.Second
)

type Conn struct {
	Backend     Backend
	ReadTimeout time.Duration
	DialTimeout time.Duration
	// Trace logs every exchanged byte at debug level.
	Trace bool
	Log   logrus.FieldLogger

	// find is replaced in tests.
	find func(find.FilterFn) (string, error)
}

func (c *Conn) setDefaults() {
	if c.Backend == "" {
		c.Backend = BugST
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	if c.find == nil {
		c.find = find.Find
	}
}

// AddFlags registers the connection settings on fs.
func (c *Conn) AddFlags(fs *flag.FlagSet) {
	if c.Backend == "" {
		c.Backend = BugST
	}
	fs.Func("backend", "serial library: bugst or jacobsa (default bugst)", func(s string) error {
		switch b := Backend(s); b {
		case BugST, Jacobsa:
			c.Backend = b
			return nil
		}
		return fmt.Errorf("unknown serial backend %q", s)
	})
	fs.DurationVar(&c.ReadTimeout, "read-timeout", defaultReadTimeout, "serial read timeout")
	fs.DurationVar(&c.DialTimeout, "dial-timeout", defaultDialTimeout, "TCP connect timeout")
	fs.BoolVar(&c.Trace, "trace", false, "log every byte exchanged with the instrument")
}

// ResolvePort turns a usb:<serial> port into a device path. Other ports are
// returned unchanged.
func (c *Conn) ResolvePort(port string) (string, error) {
	c.setDefaults()
	sn, ok := strings.CutPrefix(port, USBPrefix)
	if !ok {
		return port, nil
	}
	dev, err := c.find(find.SerialFilter(sn))
	if err != nil {
		return "", fmt.Errorf("locating usb serial %s: %w", sn, err)
	}
	c.Log.Infof("usb serial %s is %s", sn, dev)
	return dev, nil
}

// Serial returns an opener for serial endpoints, 8N1 at the endpoint's
// baud rate. Reads give up after ReadTimeout and return zero bytes.
func (c *Conn) Serial() labsync.Opener {
	c.setDefaults()
	return func(ep labsync.Endpoint) (io.ReadWriteCloser, error) {
		if ep.Port == "" {
			return nil, fmt.Errorf("%w: no serial port configured", labsync.ErrBadArgument)
		}
		name, err := c.ResolvePort(ep.Port)
		if err != nil {
			return nil, err
		}
		var port io.ReadWriteCloser
		switch c.Backend {
		case BugST:
			port, err = openBugST(name, ep.Baud, c.ReadTimeout)
		case Jacobsa:
			port, err = openJacobsa(name, ep.Baud, c.ReadTimeout)
		default:
			err = fmt.Errorf("%w: serial backend %q", labsync.ErrBadArgument, c.Backend)
		}
		if err != nil {
			return nil, err
		}
		return c.wrap(port, name), nil
	}
}

func openBugST(name string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, multierr.Append(err, port.Close())
	}
	// Discard whatever the device sent before we were listening.
	if err := port.ResetInputBuffer(); err != nil {
		return nil, multierr.Append(err, port.Close())
	}
	return port, nil
}

func openJacobsa(name string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
	port, err := jserial.Open(jserial.OpenOptions{
		PortName:              name,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            jserial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: uint(timeout / time.Millisecond),
	})
	if err != nil {
		return nil, err
	}
	return eofTimeout{port}, nil
}

// eofTimeout reports the io.EOF a non-blocking tty read returns on timeout
// as an empty read, the same as the bugst backend.
type eofTimeout struct {
	io.ReadWriteCloser
}

func (p eofTimeout) Read(b []byte) (int, error) {
	n, err := p.ReadWriteCloser.Read(b)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// TCP returns an opener for endpoints with a host:port address.
func (c *Conn) TCP() labsync.Opener {
	c.setDefaults()
	return func(ep labsync.Endpoint) (io.ReadWriteCloser, error) {
		if ep.Address == "" {
			return nil, fmt.Errorf("%w: no address configured", labsync.ErrBadArgument)
		}
		conn, err := net.DialTimeout("tcp", ep.Address, c.DialTimeout)
		if err != nil {
			return nil, err
		}
		if c.Trace {
			return &tracedConn{Tracer: cmdlog.Wrap(conn, ep.Address, c.Log), Conn: conn}, nil
		}
		return conn, nil
	}
}

func (c *Conn) wrap(port io.ReadWriteCloser, name string) io.ReadWriteCloser {
	if !c.Trace {
		return port
	}
	return cmdlog.Wrap(port, name, c.Log)
}

// tracedConn traces reads and writes but keeps the deadline methods of the
// underlying connection reachable.
type tracedConn struct {
	*cmdlog.Tracer
	net.Conn
}

func (t *tracedConn) Read(p []byte) (int, error)  { return t.Tracer.Read(p) }
func (t *tracedConn) Write(p []byte) (int, error) { return t.Tracer.Write(p) }
func (t *tracedConn) Close() error                { return t.Tracer.Close() }

// Package scpi sends SCPI commands and queries over a line-oriented stream
// such as a raw TCP socket on port 5025.
package scpi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/gotmc/query"
	"github.com/sirupsen/logrus"

	"github.com/hqe-lab/labsync"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultOPCTimeout = 10 * time.Second
)

// Client models an instrument reachable through SCPI. It satisfies
// query.Querier, so typed queries work through the query package.
type Client struct {
	rw         io.ReadWriter
	rd         *bufio.Reader
	term       byte
	timeout    time.Duration
	opcTimeout time.Duration
	debug      bool // if true, log commands and replies. Set via WithDebug().
	log        logrus.FieldLogger
}

var _ query.Querier = (*Client)(nil)

// ClientOption applies an option to the client.
type ClientOption func(*Client)

// WithTimeout sets the deadline of a plain command or query.
func WithTimeout(d time.Duration) ClientOption { return func(c *Client) { c.timeout = d } }

// WithOPCTimeout sets the deadline of a command waiting for operation
// complete.
func WithOPCTimeout(d time.Duration) ClientOption { return func(c *Client) { c.opcTimeout = d } }

// WithDebug causes commands and responses to be logged to l.
func WithDebug(l logrus.FieldLogger) ClientOption {
	return func(c *Client) {
		c.debug = true
		c.log = l
	}
}

// NewClient wraps rw. Deadlines are only applied when rw has a
// SetDeadline method, as net.Conn does.
func NewClient(rw io.ReadWriter, opts ...ClientOption) *Client {
	c := &Client{
		rw:         rw,
		rd:         bufio.NewReader(rw),
		term:       '\n',
		timeout:    defaultTimeout,
		opcTimeout: defaultOPCTimeout,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Command formats according to a format specifier if provided and sends a
// SCPI command. Leading and trailing whitespace is removed before the
// terminator is appended.
func (c *Client) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	c.deadline(c.timeout)
	return c.send(cmd)
}

// Query sends cmd and returns the reply without surrounding whitespace.
func (c *Client) Query(cmd string) (string, error) {
	return c.query(cmd, c.timeout)
}

// CommandOPC sends a command followed by *OPC? and waits, up to the OPC
// timeout, until the instrument reports the operation complete.
func (c *Client) CommandOPC(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	s, err := c.query(strings.TrimSpace(cmd)+";*OPC?", c.opcTimeout)
	if err != nil {
		return err
	}
	if s != "1" {
		return fmt.Errorf("%w: %q answered *OPC? with %q", labsync.ErrRejected, cmd, s)
	}
	return nil
}

func (c *Client) query(cmd string, timeout time.Duration) (string, error) {
	c.deadline(timeout)
	if err := c.send(cmd); err != nil {
		return "", fmt.Errorf("error writing command: %w", err)
	}
	s, err := c.rd.ReadString(c.term)
	if c.debug {
		c.log.Debugf("read data: %q", s)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(cmd), wrapTimeout(err))
	}
	return strings.TrimSpace(s), nil
}

func (c *Client) send(cmd string) error {
	cmd = fmt.Sprintf("%s%c", strings.TrimSpace(cmd), c.term)
	if c.debug {
		c.log.Debugf("cmd %q", cmd)
	}
	_, err := io.WriteString(c.rw, cmd)
	return wrapTimeout(err)
}

func (c *Client) deadline(d time.Duration) {
	dl, ok := c.rw.(interface{ SetDeadline(time.Time) error })
	if !ok || d <= 0 {
		return
	}
	_ = dl.SetDeadline(time.Now().Add(d))
}

func wrapTimeout(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	// io.ErrNoProgress comes from a port that keeps returning empty reads.
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.ErrNoProgress) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s", labsync.ErrTimeout, err)
	}
	return err
}

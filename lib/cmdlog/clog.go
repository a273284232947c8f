// Package cmdlog traces the bytes exchanged with an instrument.
package cmdlog

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/hqe-lab/labsync/lib/monitor"
)

func isAscii(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

var (
	TxStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	RxStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	NoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

// Render formats a wire chunk for a log line: quoted text when printable,
// hex otherwise.
func Render(b []byte) string {
	s := string(b)
	switch {
	case len(b) == 0:
		return "<no response>"
	case isAscii(s):
		return fmt.Sprintf("[%d] %q", len(b), s)
	case len(b) < 32:
		return fmt.Sprintf("[%d] %q (% 2x)", len(b), s, b)
	}
	return fmt.Sprintf("[%d] % 2x", len(b), b)
}

// Tracer logs every read and write on the wrapped stream at debug level.
type Tracer struct {
	rwc  io.ReadWriteCloser
	port string
	log  logrus.FieldLogger
}

// Wrap returns rwc with tracing attached. port labels log lines and metrics.
func Wrap(rwc io.ReadWriteCloser, port string, log logrus.FieldLogger) *Tracer {
	return &Tracer{rwc: rwc, port: port, log: log.WithField("port", port)}
}

func (t *Tracer) Write(p []byte) (int, error) {
	n, err := t.rwc.Write(p)
	monitor.WireBytes.WithLabelValues(t.port, "tx").Add(float64(n))
	if err != nil {
		t.log.Debugf("%s: error %s", TxStyle.Render("tx "+Render(p)), err)
	} else {
		t.log.Debug(TxStyle.Render("tx " + Render(p[:n])))
	}
	return n, err
}

func (t *Tracer) Read(p []byte) (int, error) {
	n, err := t.rwc.Read(p)
	monitor.WireBytes.WithLabelValues(t.port, "rx").Add(float64(n))
	switch {
	case err != nil && err != io.EOF:
		t.log.Debugf("%s: error %s", RxStyle.Render("rx"), err)
	case n == 0:
		t.log.Debug(NoStyle.Render("rx <no response>"))
	default:
		t.log.Debug(RxStyle.Render("rx " + Render(p[:n])))
	}
	return n, err
}

func (t *Tracer) Close() error {
	t.log.Debug("close")
	return t.rwc.Close()
}

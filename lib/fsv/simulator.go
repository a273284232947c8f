package fsv

import (
	"bytes"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/hqe-lab/labsync"
)

const simIdentity = "Rohde&Schwarz,FSV3004,1330.5000K04/101234,2.10"

// Simulator answers SCPI like an analyzer looking at a single carrier at
// the center frequency.
type Simulator struct {
	// Mute stops all answers.
	Mute bool

	mu       sync.Mutex
	in       []byte
	out      bytes.Buffer
	commands []string
	closed   bool

	center float64
	span   float64
	points int
	mode   string
}

func NewSimulator() *Simulator {
	return &Simulator{center: 1e9, span: 1e6, points: 1001, mode: "WRIT"}
}

func (s *Simulator) Opener() labsync.Opener {
	return func(labsync.Endpoint) (io.ReadWriteCloser, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = false
		s.in = nil
		s.out.Reset()
		return s, nil
	}
}

// Commands returns every line received, without terminators.
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.in = append(s.in, p...)
	for {
		i := bytes.IndexByte(s.in, '\n')
		if i < 0 {
			break
		}
		line := string(s.in[:i])
		s.in = s.in[i+1:]
		s.commands = append(s.commands, line)
		if !s.Mute {
			s.handle(line)
		}
	}
	return len(p), nil
}

func (s *Simulator) handle(line string) {
	if cmd, ok := strings.CutSuffix(line, ";*OPC?"); ok {
		s.apply(cmd)
		s.answer("1")
		return
	}
	switch line {
	case "*IDN?":
		s.answer(simIdentity)
	case "SWEep:POINts?":
		s.answer(strconv.Itoa(s.points))
	case "Trace:DATA? TRACe1":
		s.answer(join(s.levels()))
	case "Trace:DATA:X? TRACe1":
		s.answer(join(s.frequencies()))
	default:
		s.apply(line)
	}
}

func (s *Simulator) apply(cmd string) {
	name, arg, _ := strings.Cut(strings.TrimSpace(cmd), " ")
	switch name {
	case "FREQuency:CENTer":
		if f, err := strconv.ParseFloat(arg, 64); err == nil {
			s.center = f
		}
	case "FREQuency:SPAN":
		if f, err := strconv.ParseFloat(arg, 64); err == nil {
			s.span = f
		}
	case "SWEep:POINts":
		if n, err := strconv.Atoi(arg); err == nil && n > 1 {
			s.points = n
		}
	case "DISPlay:TRACe1:MODE":
		s.mode = arg
	}
}

func (s *Simulator) answer(v string) {
	s.out.WriteString(v + "\n")
}

func (s *Simulator) frequencies() []float64 {
	out := make([]float64, s.points)
	step := s.span / float64(s.points-1)
	for i := range out {
		out[i] = s.center - s.span/2 + float64(i)*step
	}
	return out
}

// levels is a -90 dBm floor with a -20 dBm carrier at the center point.
func (s *Simulator) levels() []float64 {
	out := make([]float64, s.points)
	mid := s.points / 2
	for i := range out {
		d := float64(i - mid)
		out[i] = -90 + 70*math.Exp(-d*d/2)
	}
	return out
}

func join(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.out.Len() == 0 {
		return 0, nil
	}
	return s.out.Read(p)
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

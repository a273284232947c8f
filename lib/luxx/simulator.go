package luxx

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/hqe-lab/labsync"
)

// Simulator answers queries like a LuxX+ controller.
type Simulator struct {
	// PowerOnFails makes the power on query fail, forcing a reset.
	PowerOnFails bool
	// ResetReads is the number of empty reads before a reset is confirmed.
	ResetReads int
	// Mute stops all answers.
	Mute bool

	mu        sync.Mutex
	in        []byte
	out       bytes.Buffer
	commands  []string
	resetting int
	closed    bool

	power     string
	tempPower string
	mode      string
	emission  bool
}

func NewSimulator() *Simulator {
	return &Simulator{power: "50.0", tempPower: "0.0", mode: "0"}
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

// Commands returns every command received, without terminators.
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Emission reports whether the laser is emitting.
func (s *Simulator) Emission() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emission
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.in = append(s.in, p...)
	for {
		i := bytes.IndexByte(s.in, terminator)
		if i < 0 {
			break
		}
		cmd := string(s.in[:i])
		s.in = s.in[i+1:]
		s.commands = append(s.commands, cmd)
		if !s.Mute {
			s.handle(cmd)
		}
	}
	return len(p), nil
}

func (s *Simulator) handle(q string) {
	if len(q) < 4 || q[0] != '?' {
		return
	}
	name, arg := q[1:4], q[4:]
	answer := func(v string) { s.out.WriteString("!" + name + v + string(terminator)) }

	switch name {
	case "GFw":
		answer("1.11|LuxX+ 488-100|SN 4711")
	case "GSI":
		answer("488|100")
	case "GMP":
		answer("100")
	case "POn":
		if s.PowerOnFails {
			answer("x")
			return
		}
		answer(ack)
	case "SOM":
		answer(ack)
	case "RsC":
		s.resetting = s.ResetReads + 1
	case "SLP":
		s.power = arg
		answer(ack)
	case "GLP":
		answer(s.power)
	case "TPP":
		s.tempPower = arg
		answer(ack)
	case "TTP":
		answer(s.tempPower)
	case "ROM":
		if arg == "" {
			answer(s.mode)
			return
		}
		if strings.ContainsAny(arg, "012345") && len(arg) == 1 {
			s.mode = arg
			answer(ack)
			return
		}
		answer("x")
	case "LOn":
		s.emission = true
		answer(ack)
	case "LOf":
		s.emission = false
		answer(ack)
	case "GLF":
		answer("0000")
	default:
		answer("x")
	}
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.resetting > 0 {
		s.resetting--
		if s.resetting == 0 {
			s.out.WriteString("!RsC>" + string(terminator))
		}
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

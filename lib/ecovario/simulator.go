package ecovario

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/hqe-lab/labsync"
)

const (
	cmdWriteAck  byte = 0x60
	cmdReadReply byte = 0x43

	statusReady         = 0x0237
	statusTargetReached = 0x0400
)

// Simulator answers SDO frames like a controller with an attached stage.
// A started move halves the remaining distance each time the actual
// position is read.
type Simulator struct {
	mu      sync.Mutex
	objects map[uint16]int32
	actual  int32
	moving  bool
	out     bytes.Buffer
	frames  [][]byte
	closed  bool
}

func NewSimulator() *Simulator {
	return &Simulator{objects: make(map[uint16]int32)}
}

// Opener returns an opener handing out the simulator for any endpoint.
func (s *Simulator) Opener() labsync.Opener {
	return func(labsync.Endpoint) (io.ReadWriteCloser, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = false
		s.out.Reset()
		return s, nil
	}
}

// Frames returns copies of all request frames received so far.
func (s *Simulator) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	for i, f := range s.frames {
		out[i] = bytes.Clone(f)
	}
	return out
}

// Object returns the last value written to obj.
func (s *Simulator) Object(obj uint16) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[obj]
}

// Write consumes one request frame. Malformed frames get no reply.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p) != FrameLen || verify(p) != nil {
		return len(p), nil
	}
	s.frames = append(s.frames, bytes.Clone(p))
	obj := binary.LittleEndian.Uint16(p[2:4])
	s.out.Write(p)

	switch p[1] {
	case cmdWrite:
		v := int32(binary.LittleEndian.Uint32(p[5:9]))
		s.objects[obj] = v
		if obj == ObjControlWord {
			s.control(v)
		}
		s.reply(p[0], cmdWriteAck, obj, 0)
	case cmdRead:
		s.reply(p[0], cmdReadReply, obj, s.value(obj))
	}
	return len(p), nil
}

func (s *Simulator) control(word int32) {
	switch word {
	case CtrlStart:
		s.moving = true
	case CtrlStop:
		s.moving = false
	case CtrlHome:
		s.objects[ObjTargetPosition] = 0
		s.moving = true
	case CtrlResetError:
		s.objects[ObjErrorCode] = 0
	}
}

func (s *Simulator) value(obj uint16) int32 {
	switch obj {
	case ObjActualPosition:
		s.step()
		return s.actual
	case ObjStatusWord:
		if s.moving {
			return statusReady
		}
		return statusReady | statusTargetReached
	}
	return s.objects[obj]
}

func (s *Simulator) step() {
	if !s.moving {
		return
	}
	rem := s.objects[ObjTargetPosition] - s.actual
	if rem >= -1 && rem <= 1 {
		s.actual += rem
		s.moving = false
		return
	}
	s.actual += rem / 2
}

func (s *Simulator) reply(node, cmd byte, obj uint16, v int32) {
	f := []byte{node, cmd, byte(obj), byte(obj >> 8), 0x00}
	f = binary.LittleEndian.AppendUint32(f, uint32(v))
	s.out.Write(append(f, Checksum(f)))
}

// Read returns pending reply bytes, or nothing like a timed-out port.
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

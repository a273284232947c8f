package tga

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/hqe-lab/labsync"
)

// Recorder stands in for the generator and keeps every line written to it.
type Recorder struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (r *Recorder) Opener() labsync.Opener {
	return func(labsync.Endpoint) (io.ReadWriteCloser, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.closed = false
		return r, nil
	}
}

// Lines returns the written lines without terminators.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := strings.TrimSuffix(r.buf.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// Reset forgets the recorded lines.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Reset()
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	return r.buf.Write(p)
}

// Read never returns data; the generator does not answer.
func (r *Recorder) Read([]byte) (int, error) { return 0, nil }

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

package serialport

import (
	"bytes"
	"errors"
	"sync"
)

// ErrPortClosed is returned by TestablePort after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestablePort is an in-memory Port with scripted reads and captured
// writes.
type TestablePort struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// ReadError is returned once by the next Read if set.
	ReadError error
	// WriteError is returned once by the next Write if set.
	WriteError error

	closed bool
	eof    bool
	cond   *sync.Cond
}

// NewTestablePort returns an open port whose reads block until data is
// added, EOF is signalled or the port is closed.
func NewTestablePort() *TestablePort {
	p := &TestablePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.closed && !p.eof && p.ReadError == nil && p.readBuf.Len() == 0 {
		p.cond.Wait()
	}
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return 0, err
	}
	return p.readBuf.Read(b)
}

func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrPortClosed
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	return p.writeBuf.Write(b)
}

// Close marks the port closed and wakes blocked readers.
func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// AddReadData queues bytes for Read.
func (p *TestablePort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.Write(data)
	p.cond.Broadcast()
}

// FailNextRead makes the next Read return err.
func (p *TestablePort) FailNextRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadError = err
	p.cond.Broadcast()
}

// EOF makes Read return io.EOF once the queued data is drained.
func (p *TestablePort) EOF() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eof = true
	p.cond.Broadcast()
}

// Written returns a copy of everything written so far.
func (p *TestablePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.writeBuf.Bytes())
}

// Closed reports whether Close was called.
func (p *TestablePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

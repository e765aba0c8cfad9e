// Package transport moves Z1 frames over a byte stream. A Link runs the read
// state machine that turns one request into one complete response frame,
// independent of whether the Stream underneath is a serial port or a socket.
package transport

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shaunagostinho/sshdlink/internal/frame"
)

// Stream is a half-duplex byte stream to a sensor.
type Stream interface {
	// Write sends p and blocks until it has been flushed or timeout elapses.
	Write(p []byte, timeout time.Duration) error
	// Buffered reports how many received bytes are waiting to be read.
	Buffered() int
	// WaitForBytes blocks until at least n bytes are buffered or timeout
	// elapses, and reports whether they are.
	WaitForBytes(n int, timeout time.Duration) bool
	// Read removes and returns up to n buffered bytes without blocking.
	Read(n int) []byte
	// Discard drops any buffered input.
	Discard()
	// Err reports why the stream stopped receiving, or nil while it is live.
	Err() error
	Close() error
}

// pump drains an io.Reader into a buffer on a background goroutine so that
// stream implementations get non-blocking Buffered/Read and a WaitForBytes
// that wakes as soon as data arrives.
type pump struct {
	r      io.Reader
	mu     sync.Mutex
	buf    []byte
	err    error
	notify chan struct{}
	done   chan struct{}
}

func newPump(r io.Reader, chunkSize int) *pump {
	if chunkSize <= 0 {
		chunkSize = 512
	}
	p := &pump{
		r:      r,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go p.run(chunkSize)
	return p
}

func (p *pump) run(chunkSize int) {
	defer close(p.done)
	chunk := make([]byte, chunkSize)
	for {
		n, err := p.r.Read(chunk)
		if n > 0 {
			p.mu.Lock()
			p.buf = append(p.buf, chunk[:n]...)
			p.mu.Unlock()
			p.signal()
		}
		if err != nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			p.signal()
			return
		}
	}
}

func (p *pump) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *pump) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Err returns the error that stopped the reader, if any.
func (p *pump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", frame.ErrConnectionLost, p.err)
}

func (p *pump) WaitForBytes(n int, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		p.mu.Lock()
		have, err := len(p.buf), p.err
		p.mu.Unlock()
		if have >= n {
			return true
		}
		if err != nil {
			return false
		}
		select {
		case <-p.notify:
		case <-timer.C:
			return p.Buffered() >= n
		}
	}
}

func (p *pump) Read(n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > len(p.buf) {
		n = len(p.buf)
	}
	out := append([]byte(nil), p.buf[:n]...)
	p.buf = p.buf[n:]
	return out
}

func (p *pump) Discard() {
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
}

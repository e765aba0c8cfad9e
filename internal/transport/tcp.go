package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/shaunagostinho/sshdlink/internal/frame"
)

// TCPStream is a Stream over a TCP connection to a serial gateway.
type TCPStream struct {
	*pump
	conn net.Conn
	addr string
}

type tcpOptions struct {
	dialTimeout time.Duration
	keepAlive   time.Duration
	bufSize     int
}

type Option func(*tcpOptions)

func WithDialTimeout(d time.Duration) Option {
	return func(o *tcpOptions) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

func WithKeepAlive(d time.Duration) Option {
	return func(o *tcpOptions) {
		if d > 0 {
			o.keepAlive = d
		}
	}
}

func WithBufferSize(n int) Option {
	return func(o *tcpOptions) {
		if n > 0 {
			o.bufSize = n
		}
	}
}

// DialTCP connects to addr ("host:port").
func DialTCP(ctx context.Context, addr string, opts ...Option) (*TCPStream, error) {
	o := tcpOptions{
		dialTimeout: 5 * time.Second,
		keepAlive:   30 * time.Second,
		bufSize:     512,
	}
	for _, opt := range opts {
		opt(&o)
	}
	d := net.Dialer{Timeout: o.dialTimeout, KeepAlive: o.keepAlive}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}
	log.Printf("[tcp] connected to %s", addr)
	return newTCPStream(conn, o.bufSize), nil
}

func newTCPStream(conn net.Conn, bufSize int) *TCPStream {
	return &TCPStream{pump: newPump(conn, bufSize), conn: conn, addr: conn.RemoteAddr().String()}
}

// Write sends p with a deadline of timeout.
func (s *TCPStream) Write(p []byte, timeout time.Duration) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("tcp: set deadline: %w", err)
	}
	_, err := s.conn.Write(p)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return fmt.Errorf("tcp: %s: %w", s.addr, frame.ErrWriteTimeout)
		}
		return fmt.Errorf("tcp: write %s: %w", s.addr, err)
	}
	return nil
}

func (s *TCPStream) Close() error {
	err := s.conn.Close()
	<-s.done
	log.Printf("[tcp] closed %s", s.addr)
	return err
}

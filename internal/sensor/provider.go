// Package sensor connects to a Z1 traffic sensor and exposes its
// configuration commands as typed operations.
package sensor

import (
	"context"
	"fmt"
	"sync"

	"github.com/shaunagostinho/sshdlink/internal/frame"
	"github.com/shaunagostinho/sshdlink/internal/transport"
)

// Transport kinds.
const (
	TransportSerial = "serial"
	TransportTCP    = "tcp"
	TransportDemo   = "demo"
)

// Config selects how the sensor is reached and which device to address.
type Config struct {
	Transport string                 `yaml:"transport" json:"transport"`
	Serial    transport.SerialConfig `yaml:"serial" json:"serial"`
	Address   string                 `yaml:"address" json:"address"` // host:port of a serial gateway
	Device    frame.Address          `yaml:"device" json:"device"`
	Link      transport.Config       `yaml:"link" json:"link"`
}

// Provider is the interface every sensor connection implements.
type Provider interface {
	// Name returns a human-readable description of the connection.
	Name() string
	// Connect opens the byte stream to the sensor.
	Connect(ctx context.Context) error
	// Close shuts the stream down.
	Close() error
	// IsConnected reports whether the provider has an open stream.
	IsConnected() bool
	// Stream returns the open stream, or nil when not connected.
	Stream() transport.Stream
}

// NewProvider returns the provider for cfg.Transport.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Transport {
	case TransportSerial, "":
		return &SerialProvider{cfg: cfg.Serial}, nil
	case TransportTCP:
		if cfg.Address == "" {
			return nil, fmt.Errorf("sensor: tcp transport needs an address")
		}
		return &TCPProvider{addr: cfg.Address}, nil
	case TransportDemo:
		return NewDemoProvider(), nil
	default:
		return nil, fmt.Errorf("sensor: unknown transport %q", cfg.Transport)
	}
}

// conn holds the stream shared by the concrete providers.
type conn struct {
	mu     sync.Mutex
	stream transport.Stream
}

func (c *conn) set(s transport.Stream) {
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
}

func (c *conn) Stream() transport.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *conn) IsConnected() bool { return c.Stream() != nil }

func (c *conn) Close() error {
	c.mu.Lock()
	s := c.stream
	c.stream = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

// SerialProvider reaches a sensor on a local serial port.
type SerialProvider struct {
	conn
	cfg transport.SerialConfig
}

func (p *SerialProvider) Name() string { return "Serial " + p.cfg.PortPath }

func (p *SerialProvider) Connect(context.Context) error {
	s, err := transport.OpenSerial(p.cfg)
	if err != nil {
		return err
	}
	p.set(s)
	return nil
}

// TCPProvider reaches a sensor through a serial-to-TCP gateway.
type TCPProvider struct {
	conn
	addr string
	opts []transport.Option
}

func (p *TCPProvider) Name() string { return "TCP " + p.addr }

func (p *TCPProvider) Connect(ctx context.Context) error {
	s, err := transport.DialTCP(ctx, p.addr, p.opts...)
	if err != nil {
		return err
	}
	p.set(s)
	return nil
}

// DemoProvider answers from an in-memory Simulator.
type DemoProvider struct {
	conn
	sim *Simulator
}

func NewDemoProvider() *DemoProvider {
	return &DemoProvider{sim: NewSimulator(DefaultDeviceState())}
}

func (p *DemoProvider) Name() string          { return "Demo (Simulated)" }
func (p *DemoProvider) Simulator() *Simulator { return p.sim }

func (p *DemoProvider) Connect(context.Context) error {
	p.sim.reopen()
	p.set(p.sim)
	return nil
}

// Close detaches the simulator; its state survives until the next Connect.
func (p *DemoProvider) Close() error {
	p.set(nil)
	return nil
}

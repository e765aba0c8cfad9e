package transport

import (
	"fmt"
	"log"
	"time"

	"go.bug.st/serial"

	"github.com/shaunagostinho/sshdlink/internal/frame"
)

// SerialConfig holds connection settings for a directly attached sensor.
type SerialConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// SerialStream is a Stream over a serial port.
type SerialStream struct {
	*pump
	port serial.Port
	path string
}

// OpenSerial opens the port 8N1 at the configured baud rate (9600 if unset).
func OpenSerial(cfg SerialConfig) (*SerialStream, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.PortPath, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open %s: %w", cfg.PortPath, err)
	}
	// The reader goroutine wakes at this interval so Close is noticed.
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: failed to set timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		log.Printf("[serial] reset input buffer on %s: %v", cfg.PortPath, err)
	}
	log.Printf("[serial] opened %s at %d baud", cfg.PortPath, cfg.BaudRate)
	return &SerialStream{pump: newPump(port, 256), port: port, path: cfg.PortPath}, nil
}

// Write sends p and waits for the driver to drain it. A write that has not
// drained within timeout returns frame.ErrWriteTimeout; the blocked write is
// left to finish or fail on its own.
func (s *SerialStream) Write(p []byte, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.port.Write(p)
		if err == nil {
			err = s.port.Drain()
		}
		done <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("serial: write %s: %w", s.path, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("serial: %s: %w", s.path, frame.ErrWriteTimeout)
	}
}

// Discard drops bytes held by the driver as well as the local buffer.
func (s *SerialStream) Discard() {
	if err := s.port.ResetInputBuffer(); err != nil {
		log.Printf("[serial] reset input buffer on %s: %v", s.path, err)
	}
	s.pump.Discard()
}

func (s *SerialStream) Close() error {
	err := s.port.Close()
	<-s.done
	log.Printf("[serial] closed %s", s.path)
	return err
}

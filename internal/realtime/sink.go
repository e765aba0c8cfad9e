package realtime

import (
	"errors"
	"io"
	"sync"
)

// Sink receives streamed text lines: the header once, then one line per
// record or a "No New Data" line. Lines carry no trailing newline; a sink
// that writes to a byte stream terminates each one.
type Sink interface {
	WriteLine(line string) error
	Close() error
}

// MultiSink fans each line out to every sink. A failing sink does not stop
// delivery to the others.
type MultiSink []Sink

func (m MultiSink) WriteLine(line string) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteLine(line); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriterSink writes newline-terminated lines to an io.Writer, closing it on
// Close when it is an io.Closer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink { return &WriterSink{w: w} }

func (s *WriterSink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, line+"\n")
	return err
}

func (s *WriterSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

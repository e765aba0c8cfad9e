// Package realtime runs a streaming session: it configures data push on the
// sensor, discovers the bin layout, then polls for interval data on a ticker
// and writes one text line per record to a Sink.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/sshdlink/internal/command"
	"github.com/shaunagostinho/sshdlink/internal/frame"
	"github.com/shaunagostinho/sshdlink/internal/sensor"
	"github.com/shaunagostinho/sshdlink/internal/transport"
)

// State is a step of the session lifecycle.
type State int

const (
	Idle State = iota
	Configuring
	Discovering
	Polling
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configuring:
		return "configuring"
	case Discovering:
		return "discovering"
	case Polling:
		return "polling"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Options configure a session.
type Options struct {
	Request command.RequestType
	Target  uint8
	Push    command.DataPushConfig

	// StopOnNoData ends the session at the first interval-not-found reply
	// instead of waiting for the next tick.
	StopOnNoData bool

	// Interval overrides the tick period, which is otherwise
	// Push.DataInterval seconds.
	Interval time.Duration

	// Now supplies request timestamps. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Stats counts what the session has seen so far.
type Stats struct {
	Ticks     int    `json:"ticks"`
	Records   int    `json:"records"`
	NoData    int    `json:"noData"`
	Failures  int    `json:"failures"`
	LastCode  uint16 `json:"lastCode"`
	LastError string `json:"lastError,omitempty"`
}

// Status is a snapshot of a session for the API.
type Status struct {
	State         State               `json:"state"`
	Request       command.RequestType `json:"request"`
	Target        uint8               `json:"target"`
	Lanes         int                 `json:"lanes"`
	Approaches    int                 `json:"approaches"`
	Classes       int                 `json:"classes"`
	SpeedBins     int                 `json:"speedBins"`
	DirectionBins int                 `json:"directionBins"`
	Stats         Stats               `json:"stats"`
}

// TickResult is the outcome of one polling tick.
type TickResult struct {
	Records int
	NoData  bool
}

// Session is one streaming run against a sensor.
type Session struct {
	client *sensor.Client
	sink   Sink
	opts   Options

	mu         sync.Mutex
	state      State
	lanes      int
	approaches int
	classes    int
	speedBins  int
	since      frame.DateTime
	seq        uint8
	stats      Stats

	cancel    context.CancelFunc
	running   bool
	stopped   bool
	done      chan struct{}
	closeOnce sync.Once
}

// directionBins is the direction-bin count. Sensors do not report direction
// bins yet, so it stays zero.
const directionBins = 0

// NewSession prepares a session; nothing is sent until Start.
func NewSession(client *sensor.Client, sink Sink, opts Options) *Session {
	if opts.Request == 0 {
		opts.Request = command.RequestAll
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Session{client: client, sink: sink, opts: opts, done: make(chan struct{})}
}

// setState records st. Stopped is final.
func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	log.Printf("[stream] %s", st)
}

// Setup configures data push, discovers the lane and bin layout and writes
// the header line. On failure the session is Stopped and its sink closed.
func (s *Session) Setup(ctx context.Context) error {
	if err := s.setup(ctx); err != nil {
		s.finish()
		return err
	}
	return nil
}

func (s *Session) setup(ctx context.Context) error {
	if s.opts.Request < command.RequestLane || s.opts.Request > command.RequestAll {
		return fmt.Errorf("stream: %w: request type %d", command.ErrInvalidValue, s.opts.Request)
	}

	s.setState(Configuring)
	if err := s.client.WriteDataPush(ctx, s.opts.Push); err != nil {
		var de *frame.DeviceError
		if errors.As(err, &de) {
			s.recordFailure(de.Code, err)
			return fmt.Errorf("stream: %w: %w", frame.ErrConfigurationRejected, err)
		}
		return fmt.Errorf("stream: configure: %w", err)
	}

	s.setState(Discovering)
	// The classification read carries sub-id 0; the speed-bin read carries
	// the maximum bin count.
	classes, err := s.client.ReadClassification(ctx)
	if err != nil {
		return fmt.Errorf("stream: discover classes: %w", err)
	}
	speeds, err := s.client.ReadSpeedBins(ctx)
	if err != nil {
		return fmt.Errorf("stream: discover speed bins: %w", err)
	}
	lanes, err := s.client.ReadLanes(ctx)
	if err != nil {
		return fmt.Errorf("stream: discover lanes: %w", err)
	}
	approaches, err := s.client.ReadApproaches(ctx)
	if err != nil {
		return fmt.Errorf("stream: discover approaches: %w", err)
	}

	s.mu.Lock()
	s.classes = len(classes)
	s.speedBins = len(speeds)
	s.lanes = lanes.Configured
	s.approaches = approaches.Configured
	s.since = frame.DateTimeFromTime(s.opts.Now())
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return errStoppedDuringSetup
	}
	log.Printf("[stream] %d lanes, %d approaches, %d length bins, %d speed bins",
		s.lanes, s.approaches, s.classes, s.speedBins)

	if err := s.sink.WriteLine(HeaderLine(s.classes, s.speedBins)); err != nil {
		return fmt.Errorf("stream: write header: %w", err)
	}
	s.setState(Polling)
	return nil
}

// Start runs Setup and then polls on a ticker until Stop, ctx ends, or the
// session stops itself on a no-data reply.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Setup(ctx); err != nil {
		return err
	}
	interval := s.opts.Interval
	if interval <= 0 {
		interval = time.Duration(s.opts.Push.DataInterval) * time.Second
	}
	if interval <= 0 {
		s.finish()
		return fmt.Errorf("stream: %w: data interval is zero", command.ErrInvalidValue)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return errStoppedDuringSetup
	}
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()
	go s.run(ctx, interval)
	return nil
}

var errStoppedDuringSetup = errors.New("stream: stopped during setup")

// run is the single polling goroutine, so ticks never overlap. A tick that
// runs long makes the ticker drop the ticks it missed.
func (s *Session) run(ctx context.Context, interval time.Duration) {
	defer close(s.done)
	defer s.finish()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.Tick(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[stream] tick failed: %v", err)
				continue
			}
			if res.NoData && s.opts.StopOnNoData {
				log.Printf("[stream] no new data, stopping")
				return
			}
		}
	}
}

// Tick sends one interval-data request and reads up to LoopLimit records
// while holding the link. The request carries the timestamp of the last
// tick that completed.
// An interval-not-found reply ends the tick with one NoDataLine; any other
// failure aborts the tick, keeping the lines already decoded.
func (s *Session) Tick(ctx context.Context) (TickResult, error) {
	s.mu.Lock()
	s.seq++
	req := command.IntervalRequest{Type: s.opts.Request, Target: s.opts.Target, Since: s.since}
	seq := s.seq
	limit := LoopLimit(s.opts.Request, s.opts.Target, s.lanes, s.approaches)
	next := frame.DateTimeFromTime(s.opts.Now())
	s.stats.Ticks++
	s.mu.Unlock()

	raw, err := s.client.Builder().IntervalRequest(seq, req)
	if err != nil {
		return TickResult{}, err
	}

	var (
		lines []string
		res   TickResult
		code  uint16
	)
	err = s.client.Link().Transaction(ctx, func(tx *transport.Tx) error {
		if _, err := tx.Send(raw); err != nil {
			return err
		}
		for i := 0; i < limit; i++ {
			r, err := tx.Receive()
			if err != nil {
				return err
			}
			if c, ok := command.StreamResultCode(r.Frame); ok {
				code = c
				if c == frame.CodeIntervalNotFound {
					res.NoData = true
					return nil
				}
			}
			rec, err := command.DecodeIntervalRecord(r.Frame)
			if err != nil {
				return fmt.Errorf("record %d of %d: %w", i+1, limit, err)
			}
			lines = append(lines, FormatRecord(rec))
		}
		return nil
	})

	if res.NoData {
		lines = append(lines, NoDataLine)
	}
	for _, line := range lines {
		if werr := s.sink.WriteLine(line); werr != nil {
			log.Printf("[stream] sink: %v", werr)
		}
	}
	res.Records = len(lines)
	if res.NoData {
		res.Records--
	}

	s.mu.Lock()
	s.stats.Records += res.Records
	s.stats.LastCode = code
	if res.NoData {
		s.stats.NoData++
	}
	s.mu.Unlock()

	if err != nil {
		var de *frame.DeviceError
		if errors.As(err, &de) {
			code = de.Code
		}
		s.recordFailure(code, err)
		return res, fmt.Errorf("stream: tick %d: %w", seq, err)
	}

	// A failed tick leaves since alone so the next one asks for the same
	// window again.
	s.mu.Lock()
	s.since = next
	s.mu.Unlock()
	return res, nil
}

func (s *Session) recordFailure(code uint16, err error) {
	s.mu.Lock()
	s.stats.Failures++
	s.stats.LastCode = code
	s.stats.LastError = err.Error()
	s.mu.Unlock()
}

// finish moves the session to Stopped and closes the sink, once. Without a
// polling goroutine it also closes done.
func (s *Session) finish() {
	s.closeOnce.Do(func() {
		s.setState(Stopped)
		if err := s.sink.Close(); err != nil {
			log.Printf("[stream] closing sink: %v", err)
		}
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			close(s.done)
		}
	})
}

// Stop cancels the ticker, waits for an in-flight tick to finish and closes
// the sink. It is safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		s.finish()
		return
	}
	cancel()
	<-s.done
}

// Done is closed when the polling goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:         s.state,
		Request:       s.opts.Request,
		Target:        s.opts.Target,
		Lanes:         s.lanes,
		Approaches:    s.approaches,
		Classes:       s.classes,
		SpeedBins:     s.speedBins,
		DirectionBins: directionBins,
		Stats:         s.stats,
	}
}

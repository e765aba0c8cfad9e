package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/sshdlink/internal/frame"
)

// State is a step of the read state machine.
type State int

const (
	Idle State = iota
	AwaitHeader
	AwaitBody
	Complete
	WriteTimeout
	ReadTimeout
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitHeader:
		return "await-header"
	case AwaitBody:
		return "await-body"
	case Complete:
		return "complete"
	case WriteTimeout:
		return "write-timeout"
	case ReadTimeout:
		return "read-timeout"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config bounds one exchange.
type Config struct {
	WriteTimeout time.Duration `yaml:"write_timeout" json:"writeTimeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"readTimeout"`
	PollStep     time.Duration `yaml:"poll_step" json:"pollStep"`
}

// DefaultConfig returns 3 s write and read timeouts polled in 5 ms steps.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 3000 * time.Millisecond,
		ReadTimeout:  3000 * time.Millisecond,
		PollStep:     5 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PollStep <= 0 {
		c.PollStep = d.PollStep
	}
	return c
}

// Result is the outcome of one send or receive. On a timeout Frame holds the
// textual marker instead of a frame.
type Result struct {
	Frame     []byte
	ErrorCode uint16
	State     State
}

// Link serializes access to one Stream. The protocol has no request ids, so
// at most one request may be outstanding per connection.
type Link struct {
	mu     sync.Mutex
	stream Stream
	codec  *frame.Codec
	cfg    Config
}

// NewLink wraps s. A nil codec uses the default CRC table; zero config fields
// take their defaults.
func NewLink(s Stream, codec *frame.Codec, cfg Config) *Link {
	if codec == nil {
		codec = frame.NewCodec(nil)
	}
	return &Link{stream: s, codec: codec, cfg: cfg.withDefaults()}
}

func (l *Link) Codec() *frame.Codec { return l.codec }
func (l *Link) Config() Config      { return l.cfg }

// Exchange sends req and assembles the single response frame.
func (l *Link) Exchange(ctx context.Context, req []byte) (Result, error) {
	var res Result
	err := l.Transaction(ctx, func(tx *Tx) error {
		var err error
		if res, err = tx.Send(req); err != nil {
			return err
		}
		res, err = tx.Receive()
		return err
	})
	return res, err
}

// Transaction holds the link for the duration of fn, so a request answered
// by several frames is not interleaved with other traffic.
func (l *Link) Transaction(ctx context.Context, fn func(*Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(&Tx{ctx: ctx, link: l})
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream.Close()
}

// Tx is a link held by Transaction.
type Tx struct {
	ctx  context.Context
	link *Link
}

// Send discards stale input and writes req.
func (tx *Tx) Send(req []byte) (Result, error) {
	s := tx.link.stream
	s.Discard()
	if err := s.Write(req, tx.link.cfg.WriteTimeout); err != nil {
		log.Printf("[link] write failed: %v", err)
		if !errors.Is(err, frame.ErrWriteTimeout) {
			return Result{State: Idle}, fmt.Errorf("link: %w", err)
		}
		return Result{Frame: append([]byte(nil), frame.WriteTimeoutMarker...), State: WriteTimeout},
			fmt.Errorf("link: %w", frame.ErrWriteTimeout)
	}
	return Result{State: AwaitHeader}, nil
}

// Receive assembles one response frame: the 10 header bytes, then the
// payload size plus the header and body CRC bytes. The frame is returned
// only after both CRCs check out; a result frame's code is in ErrorCode.
func (tx *Tx) Receive() (Result, error) {
	s := tx.link.stream

	if err := tx.wait(frame.HeaderSize); err != nil {
		return tx.readFailed(AwaitHeader, err)
	}
	head := s.Read(frame.HeaderSize)
	if head[0] != 'Z' {
		log.Printf("[link] unexpected header bytes % X", head)
	}
	rest := int(head[frame.SizeIndex]) + 2

	if err := tx.wait(rest); err != nil {
		return tx.readFailed(AwaitBody, err)
	}
	raw := append(head, s.Read(rest)...)

	res := Result{Frame: raw, State: Complete}
	if err := tx.link.codec.Verify(raw); err != nil {
		return res, fmt.Errorf("link: %w", err)
	}
	if code, ok := frame.ResultCode(raw); ok {
		res.ErrorCode = code
	}
	return res, nil
}

func (tx *Tx) readFailed(at State, err error) (Result, error) {
	if tx.ctx.Err() != nil {
		return Result{State: at}, err
	}
	if errors.Is(err, frame.ErrConnectionLost) {
		log.Printf("[link] %v in %s", err, at)
		return Result{State: at}, fmt.Errorf("link: %w", err)
	}
	log.Printf("[link] read timed out in %s", at)
	return Result{Frame: append([]byte(nil), frame.ReadTimeoutMarker...), State: ReadTimeout},
		fmt.Errorf("link: %w", frame.ErrReadTimeout)
}

// wait polls in short steps until n bytes are buffered, the read timeout
// elapses, the stream dies or the context ends.
func (tx *Tx) wait(n int) error {
	cfg := tx.link.cfg
	deadline := time.Now().Add(cfg.ReadTimeout)
	for {
		if tx.link.stream.Buffered() >= n {
			return nil
		}
		if err := tx.ctx.Err(); err != nil {
			return err
		}
		if err := tx.link.stream.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return frame.ErrReadTimeout
		}
		tx.link.stream.WaitForBytes(n, min(cfg.PollStep, remaining))
	}
}

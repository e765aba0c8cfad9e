package sensor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shaunagostinho/sshdlink/internal/command"
	"github.com/shaunagostinho/sshdlink/internal/frame"
	"github.com/shaunagostinho/sshdlink/internal/transport"
)

// Client runs configuration commands against one sensor. It is safe for
// concurrent use; the underlying Link serializes exchanges.
type Client struct {
	link    *transport.Link
	builder *command.Builder
}

func NewClient(link *transport.Link, dest frame.Address) *Client {
	return &Client{link: link, builder: command.NewBuilder(link.Codec(), dest)}
}

func (c *Client) Link() *transport.Link     { return c.link }
func (c *Client) Builder() *command.Builder { return c.builder }
func (c *Client) Close() error              { return c.link.Close() }
func (c *Client) Dest() frame.Address       { return c.builder.Dest() }

func (c *Client) exchangeRaw(ctx context.Context, req []byte) ([]byte, error) {
	res, err := c.link.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Frame, nil
}

// read sends the catalogue read request for name and parses the response.
func read[T any](ctx context.Context, c *Client, name command.Name, parse func([]byte) (T, error)) (T, error) {
	var zero T
	req, err := c.builder.Read(name)
	if err != nil {
		return zero, err
	}
	raw, err := c.exchangeRaw(ctx, req)
	if err != nil {
		return zero, fmt.Errorf("read %s: %w", name, err)
	}
	v, err := parse(raw)
	if err != nil {
		return v, fmt.Errorf("read %s: %w", name, err)
	}
	return v, nil
}

// write sends a built write request and checks the acknowledgement.
func (c *Client) write(ctx context.Context, name command.Name, req []byte, buildErr error) error {
	if buildErr != nil {
		return buildErr
	}
	raw, err := c.exchangeRaw(ctx, req)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := command.ParseWriteResult(raw, req[frame.MsgIDIndex]); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	log.Printf("[sensor] wrote %s to %d/%d", name, c.Dest().Subnet, c.Dest().ID)
	return nil
}

func (c *Client) ReadGeneralConfig(ctx context.Context) (command.SensorConfig, error) {
	return read(ctx, c, command.GeneralConfig, command.ParseGeneralConfig)
}

func (c *Client) WriteGeneralConfig(ctx context.Context, cfg command.SensorConfig) error {
	req, err := c.builder.WriteGeneralConfig(cfg)
	return c.write(ctx, command.GeneralConfig, req, err)
}

func (c *Client) ReadDataPush(ctx context.Context) (command.DataPushConfig, error) {
	return read(ctx, c, command.DataPush, command.ParseDataPush)
}

func (c *Client) WriteDataPush(ctx context.Context, cfg command.DataPushConfig) error {
	req, err := c.builder.WriteDataPush(cfg)
	return c.write(ctx, command.DataPush, req, err)
}

func (c *Client) ReadGlobalPush(ctx context.Context) (bool, error) {
	return read(ctx, c, command.GlobalPush, command.ParseGlobalPush)
}

func (c *Client) WriteGlobalPush(ctx context.Context, enabled bool) error {
	req, err := c.builder.WriteGlobalPush(enabled)
	return c.write(ctx, command.GlobalPush, req, err)
}

func (c *Client) ReadUARTPush(ctx context.Context) (command.UARTPushModes, error) {
	return read(ctx, c, command.UARTPush, command.ParseUARTPush)
}

func (c *Client) WriteUARTPush(ctx context.Context, m command.UARTPushModes) error {
	req, err := c.builder.WriteUARTPush(m)
	return c.write(ctx, command.UARTPush, req, err)
}

func (c *Client) ReadClock(ctx context.Context) (frame.DateTime, error) {
	return read(ctx, c, command.Clock, command.ParseClock)
}

func (c *Client) WriteClock(ctx context.Context, d frame.DateTime) error {
	req, err := c.builder.WriteClock(d)
	return c.write(ctx, command.Clock, req, err)
}

// SyncClock sets the sensor clock to now in UTC.
func (c *Client) SyncClock(ctx context.Context, now time.Time) error {
	return c.WriteClock(ctx, frame.DateTimeFromTime(now.UTC()))
}

// OffsetClock shifts the sensor clock by d, rounded to whole seconds.
func (c *Client) OffsetClock(ctx context.Context, d time.Duration) error {
	secs := d.Round(time.Second) / time.Second
	negative := secs < 0
	if negative {
		secs = -secs
	}
	if secs > 0xFFFF {
		return fmt.Errorf("%w: clock offset %s", command.ErrInvalidValue, d)
	}
	req, err := c.builder.WriteClockOffset(negative, uint16(secs))
	return c.write(ctx, command.ClockOffset, req, err)
}

func (c *Client) WriteDirectionBins(ctx context.Context, enabled bool) error {
	req, err := c.builder.WriteDirectionBins(enabled)
	return c.write(ctx, command.DirectionBins, req, err)
}

func (c *Client) ReadApproaches(ctx context.Context) (command.ApproachTable, error) {
	return read(ctx, c, command.Approaches, command.ParseApproaches)
}

func (c *Client) WriteApproaches(ctx context.Context, as []command.Approach) error {
	req, err := c.builder.WriteApproaches(as)
	return c.write(ctx, command.Approaches, req, err)
}

func (c *Client) ReadLanes(ctx context.Context) (command.LaneTable, error) {
	return read(ctx, c, command.Lanes, command.ParseLanes)
}

func (c *Client) WriteLanes(ctx context.Context, ls []command.Lane) error {
	req, err := c.builder.WriteLanes(ls)
	return c.write(ctx, command.Lanes, req, err)
}

func (c *Client) ReadClassification(ctx context.Context) ([]frame.Fixed88, error) {
	return read(ctx, c, command.Classification, command.ParseClassification)
}

func (c *Client) WriteClassification(ctx context.Context, bounds []frame.Fixed88) error {
	req, err := c.builder.WriteClassification(bounds)
	return c.write(ctx, command.Classification, req, err)
}

func (c *Client) ReadSpeedBins(ctx context.Context) ([]frame.Fixed88, error) {
	return read(ctx, c, command.SpeedBins, command.ParseSpeedBins)
}

func (c *Client) WriteSpeedBins(ctx context.Context, bounds []frame.Fixed88) error {
	req, err := c.builder.WriteSpeedBins(bounds)
	return c.write(ctx, command.SpeedBins, req, err)
}

// Snapshot is every readable configuration block.
type Snapshot struct {
	General        command.SensorConfig   `json:"general"`
	Push           command.DataPushConfig `json:"push"`
	GlobalPush     bool                   `json:"globalPush"`
	UART           command.UARTPushModes  `json:"uart"`
	Clock          string                 `json:"clock"`
	Approaches     command.ApproachTable  `json:"approaches"`
	Lanes          command.LaneTable      `json:"lanes"`
	Classification []float64              `json:"classification"`
	SpeedBins      []float64              `json:"speedBins"`
}

// ReadAll reads every readable block, stopping at the first failure.
func (c *Client) ReadAll(ctx context.Context) (*Snapshot, error) {
	var s Snapshot
	var err error
	if s.General, err = c.ReadGeneralConfig(ctx); err != nil {
		return nil, err
	}
	if s.Push, err = c.ReadDataPush(ctx); err != nil {
		return nil, err
	}
	if s.GlobalPush, err = c.ReadGlobalPush(ctx); err != nil {
		return nil, err
	}
	if s.UART, err = c.ReadUARTPush(ctx); err != nil {
		return nil, err
	}
	clock, err := c.ReadClock(ctx)
	if err != nil {
		return nil, err
	}
	s.Clock = clock.String()
	if s.Approaches, err = c.ReadApproaches(ctx); err != nil {
		return nil, err
	}
	if s.Lanes, err = c.ReadLanes(ctx); err != nil {
		return nil, err
	}
	classes, err := c.ReadClassification(ctx)
	if err != nil {
		return nil, err
	}
	s.Classification = Floats(classes)
	speeds, err := c.ReadSpeedBins(ctx)
	if err != nil {
		return nil, err
	}
	s.SpeedBins = Floats(speeds)
	return &s, nil
}

// Floats converts 8.8 boundaries for display.
func Floats(bounds []frame.Fixed88) []float64 {
	out := make([]float64, len(bounds))
	for i, b := range bounds {
		out[i] = b.Float()
	}
	return out
}

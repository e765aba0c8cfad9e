package command

import (
	"encoding/binary"
	"fmt"

	"github.com/shaunagostinho/sshdlink/internal/frame"
)

// Builder encodes request frames for one sensor.
type Builder struct {
	codec *frame.Codec
	dest  frame.Address
}

// NewBuilder returns a builder addressing dest. A nil codec uses the default CRC table.
func NewBuilder(codec *frame.Codec, dest frame.Address) *Builder {
	if codec == nil {
		codec = frame.NewCodec(nil)
	}
	return &Builder{codec: codec, dest: dest}
}

func (b *Builder) Codec() *frame.Codec { return b.codec }
func (b *Builder) Dest() frame.Address { return b.dest }

// Read builds the read request for name using its catalogue sub-id.
func (b *Builder) Read(name Name) ([]byte, error) {
	c, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return b.ReadSub(name, c.ReadSubID)
}

// ReadSub builds a read request for name with an explicit sub-id.
func (b *Builder) ReadSub(name Name, subID uint8) ([]byte, error) {
	c, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if !c.Readable {
		return nil, fmt.Errorf("command: %s is write-only", name)
	}
	return b.codec.Encode(b.dest, 0, c.MsgID, subID, frame.TypeRead, nil)
}

func (b *Builder) write(msgID, subID uint8, payload []byte) ([]byte, error) {
	return b.codec.Encode(b.dest, 0, msgID, subID, frame.TypeWrite, payload)
}

// WriteGeneralConfig encodes the general configuration. Orientation is sent
// twice; strings are contiguous and zero padded.
func (b *Builder) WriteGeneralConfig(c SensorConfig) ([]byte, error) {
	if !c.Orientation.Valid() {
		return nil, fmt.Errorf("%w: orientation %q", ErrInvalidValue, byte(c.Orientation))
	}
	p := make([]byte, 0, 83)
	p = append(p, byte(c.Orientation), byte(c.Orientation))
	p = append(p, frame.EncodeText(c.Location, LocationWidth)...)
	p = append(p, frame.EncodeText(c.Description, DescriptionWidth)...)
	p = append(p, frame.EncodeText(c.Serial, SerialWidth)...)
	p = append(p, c.Units)
	return b.write(MsgGeneralConfig, 0, p)
}

func appendPushDestination(p []byte, d PushDestination) []byte {
	p = append(p, d.Port, d.Format, boolByte(d.Enabled), d.Dest.Subnet)
	return binary.BigEndian.AppendUint16(p, d.Dest.ID)
}

// WriteDataPush encodes the data-push configuration. Each destination carries
// its own destination id.
func (b *Builder) WriteDataPush(c DataPushConfig) ([]byte, error) {
	if c.IntervalMode > IntervalFillOnce {
		return nil, fmt.Errorf("%w: interval mode %d", ErrInvalidValue, c.IntervalMode)
	}
	p := make([]byte, 0, 25)
	p = binary.BigEndian.AppendUint16(p, c.DataInterval)
	p = append(p, uint8(c.IntervalMode))
	p = appendPushDestination(p, c.Event)
	p = appendPushDestination(p, c.Interval)
	p = appendPushDestination(p, c.Presence)
	p = binary.BigEndian.AppendUint16(p, uint16(c.LoopSeparation))
	p = binary.BigEndian.AppendUint16(p, uint16(c.LoopSize))
	return b.write(MsgDataPush, 0, p)
}

func (b *Builder) WriteGlobalPush(enabled bool) ([]byte, error) {
	return b.write(MsgGlobalPush, 0, []byte{boolByte(enabled)})
}

func (b *Builder) WriteUARTPush(m UARTPushModes) ([]byte, error) {
	return b.write(MsgUARTPush, 0, []byte{boolByte(m.RS485), boolByte(m.RS232), boolByte(m.Exp0), boolByte(m.Exp1)})
}

// UARTPushFromBits expands a 4-bit mask, bit 3 = RS485 down to bit 0 = Exp1.
func UARTPushFromBits(bits uint8) UARTPushModes {
	return UARTPushModes{
		RS485: bits&0x08 != 0,
		RS232: bits&0x04 != 0,
		Exp0:  bits&0x02 != 0,
		Exp1:  bits&0x01 != 0,
	}
}

func (b *Builder) WriteClock(d frame.DateTime) ([]byte, error) {
	packed := frame.PackDateTime(d)
	return b.write(MsgClock, 0, packed[:])
}

// WriteClockOffset shifts the sensor clock by offset; the sign travels in the sub-id.
func (b *Builder) WriteClockOffset(negative bool, offset uint16) ([]byte, error) {
	return b.write(MsgClockOffset, boolByte(negative), binary.BigEndian.AppendUint16(nil, offset))
}

func (b *Builder) WriteDirectionBins(enabled bool) ([]byte, error) {
	return b.write(MsgDirectionBins, 0, []byte{boolByte(enabled)})
}

// WriteApproaches encodes the approach table: count, all descriptions, all
// directions, all lane counts, then every lane list in order.
func (b *Builder) WriteApproaches(as []Approach) ([]byte, error) {
	if len(as) > 0xFF {
		return nil, fmt.Errorf("%w: %d approaches", ErrInvalidValue, len(as))
	}
	n := uint8(len(as))
	p := []byte{n}
	for _, a := range as {
		p = append(p, frame.EncodeText(a.Description, ApproachDescWidth)...)
	}
	for _, a := range as {
		p = append(p, a.Direction)
	}
	for _, a := range as {
		if len(a.Lanes) > 0xFF {
			return nil, fmt.Errorf("%w: %d lanes on one approach", ErrInvalidValue, len(a.Lanes))
		}
		p = append(p, uint8(len(a.Lanes)))
	}
	for _, a := range as {
		p = append(p, a.Lanes...)
	}
	return b.write(MsgApproaches, n, p)
}

// WriteLanes encodes the active-lane table. Direction 'L' is sent as 1.
func (b *Builder) WriteLanes(ls []Lane) ([]byte, error) {
	if len(ls) > 0xFF {
		return nil, fmt.Errorf("%w: %d lanes", ErrInvalidValue, len(ls))
	}
	p := []byte{uint8(len(ls))}
	for _, l := range ls {
		p = append(p, frame.EncodeText(l.Description, LaneDescWidth)...)
		p = append(p, boolByte(l.Direction == 'L'))
	}
	return b.write(MsgLanes, 0, p)
}

func encodeBounds(bounds []frame.Fixed88) []byte {
	p := make([]byte, 0, 2*len(bounds))
	for _, v := range bounds {
		p = binary.BigEndian.AppendUint16(p, uint16(v))
	}
	return p
}

// WriteClassification encodes up to eight length boundaries; the sub-id is the count.
func (b *Builder) WriteClassification(bounds []frame.Fixed88) ([]byte, error) {
	if len(bounds) > MaxClassifications {
		return nil, fmt.Errorf("%w: %d classification bounds, max %d", ErrInvalidValue, len(bounds), MaxClassifications)
	}
	return b.write(MsgClassification, uint8(len(bounds)), encodeBounds(bounds))
}

// WriteSpeedBins encodes up to fifteen speed boundaries; the sub-id is the count.
func (b *Builder) WriteSpeedBins(bounds []frame.Fixed88) ([]byte, error) {
	if len(bounds) > MaxSpeedBins {
		return nil, fmt.Errorf("%w: %d speed bins, max %d", ErrInvalidValue, len(bounds), MaxSpeedBins)
	}
	return b.write(MsgSpeedBins, uint8(len(bounds)), encodeBounds(bounds))
}

// IntervalRequest encodes a timestamped interval-data request. The request
// type travels in the sub-id; the payload is the packed timestamp and target.
func (b *Builder) IntervalRequest(seq uint8, r IntervalRequest) ([]byte, error) {
	if r.Type < RequestLane || r.Type > RequestAll {
		return nil, fmt.Errorf("%w: request type %d", ErrInvalidValue, r.Type)
	}
	packed := frame.PackDateTime(r.Since)
	p := append(packed[:], r.Target)
	return b.codec.Encode(b.dest, seq, MsgIntervalData, uint8(r.Type), frame.TypeRead, p)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

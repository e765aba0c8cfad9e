package command

import (
	"encoding/binary"

	"github.com/shaunagostinho/sshdlink/internal/frame"
)

// MinRecordSize is the shortest response that can hold an interval record.
const MinRecordSize = 23

// BinBlock is one trailing block of per-bin counts (length, speed or
// direction bins) in an interval record.
type BinBlock struct {
	Kind   uint8    `json:"kind"`
	Counts []uint32 `json:"counts"`
}

// IntervalRecord is one decoded interval-data record.
//
// Payload layout (frame offsets):
//
//	14-21   packed timestamp (see frame.PackDateTime)
//	22-23   interval duration
//	24      lanes configured
//	25      approaches configured
//	26-28   average speed (16.8)
//	29-31   volume
//	32-33   average occupancy (8.8)
//	34-36   85th percentile speed (16.8)
//	37-39   headway (ms)
//	40-42   gap (ms)
//	43..    bin blocks: kind, n, n x 3-byte count
//
// The lane or approach number shares byte 17 with the timestamp's
// month/day byte, so it is not decoded.
type IntervalRecord struct {
	Timestamp  frame.DateTime `json:"timestamp"`
	Duration   uint16         `json:"duration"`
	Lanes      uint8          `json:"lanes"`
	Approaches uint8          `json:"approaches"`
	AvgSpeed   float64        `json:"avgSpeed"`
	Volume     uint32         `json:"volume"`
	Occupancy  float64        `json:"occupancy"`
	Speed85th  float64        `json:"speed85th"`
	HeadwayMS  uint32         `json:"headwayMs"`
	GapMS      uint32         `json:"gapMs"`
	Bins       []BinBlock     `json:"bins"`
}

// StreamResultCode returns the error code of a streamed response. A response
// counts as a result when its type byte is 2 or its payload size is 5.
func StreamResultCode(raw []byte) (uint16, bool) {
	if len(raw) < frame.PayloadIndex+2 {
		return 0, false
	}
	if frame.MsgType(raw[frame.TypeIndex]) != frame.TypeResult && raw[frame.SizeIndex] != 5 {
		return 0, false
	}
	return binary.BigEndian.Uint16(raw[frame.PayloadIndex:]), true
}

// DecodeIntervalRecord decodes one interval-data response. Every field read
// is bounds checked against the body; any overrun is frame.ErrRecordTruncated.
func DecodeIntervalRecord(raw []byte) (*IntervalRecord, error) {
	if err := frame.MarkerError(raw); err != nil {
		return nil, err
	}
	if code, ok := StreamResultCode(raw); ok && code != frame.CodeNone {
		return nil, &frame.DeviceError{MsgID: MsgIntervalData, Code: code}
	}
	if len(raw) < MinRecordSize {
		return nil, frame.ErrRecordTruncated
	}

	c := newCursor(raw, frame.PayloadIndex, bodyEnd(raw), frame.ErrRecordTruncated)
	r := &IntervalRecord{Timestamp: c.dateTime()}
	r.Duration = c.u16()
	r.Lanes = c.u8()
	r.Approaches = c.u8()
	r.AvgSpeed = c.fixed24()
	r.Volume = c.u24()
	r.Occupancy = c.fixed16().Float()
	r.Speed85th = c.fixed24()
	r.HeadwayMS = c.u24()
	r.GapMS = c.u24()
	for c.err == nil && c.off < c.end {
		blk := BinBlock{Kind: c.u8()}
		n := int(c.u8())
		blk.Counts = make([]uint32, 0, n)
		for i := 0; i < n && c.err == nil; i++ {
			blk.Counts = append(blk.Counts, c.u24())
		}
		r.Bins = append(r.Bins, blk)
	}
	if c.err != nil {
		return nil, c.err
	}
	return r, nil
}

// EncodeIntervalRecord is the inverse of DecodeIntervalRecord's payload
// layout, used to build device responses.
func EncodeIntervalRecord(r *IntervalRecord) []byte {
	ts := frame.PackDateTime(r.Timestamp)
	p := make([]byte, 0, 29+8*len(r.Bins))
	p = append(p, ts[:]...)
	p = binary.BigEndian.AppendUint16(p, r.Duration)
	p = append(p, r.Lanes, r.Approaches)
	p = appendFixed24(p, r.AvgSpeed)
	p = appendUint24(p, r.Volume)
	p = binary.BigEndian.AppendUint16(p, uint16(frame.Fixed88FromFloat(r.Occupancy)))
	p = appendFixed24(p, r.Speed85th)
	p = appendUint24(p, r.HeadwayMS)
	p = appendUint24(p, r.GapMS)
	for _, b := range r.Bins {
		p = append(p, b.Kind, uint8(len(b.Counts)))
		for _, v := range b.Counts {
			p = appendUint24(p, v)
		}
	}
	return p
}

func appendUint24(p []byte, v uint32) []byte {
	var b [3]byte
	frame.PutUint24(b[:], v)
	return append(p, b[:]...)
}

func appendFixed24(p []byte, v float64) []byte {
	var b [3]byte
	frame.PutFixed24(b[:], v)
	return append(p, b[:]...)
}

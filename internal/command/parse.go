package command

import (
	"fmt"

	"github.com/shaunagostinho/sshdlink/internal/frame"
)

// Response parsers take the raw response produced by the transport, which is
// either a complete frame or a timeout marker. A parser returns:
//   - the typed timeout error for a marker,
//   - the *frame.DeviceError for a short result frame with a non-zero code,
//   - frame.ErrResponseTruncated for any other short response,
//   - otherwise the decoded value, together with a *frame.DeviceError when
//     the frame is a result carrying a non-zero code.

func precheck(raw []byte, msgID uint8, min int) error {
	if err := frame.MarkerError(raw); err != nil {
		return err
	}
	if len(raw) < min {
		if err := resultError(raw, msgID); err != nil {
			return err
		}
		return fmt.Errorf("%w: msg 0x%02X needs %d bytes, got %d", frame.ErrResponseTruncated, msgID, min, len(raw))
	}
	return nil
}

func resultError(raw []byte, msgID uint8) error {
	if code, ok := frame.ResultCode(raw); ok && code != frame.CodeNone {
		return &frame.DeviceError{MsgID: msgID, Code: code}
	}
	return nil
}

// bodyEnd is the index of the body CRC, clamped to the bytes present.
func bodyEnd(raw []byte) int {
	end := len(raw) - 1
	if len(raw) > frame.SizeIndex {
		if e := frame.BodyIndex + int(raw[frame.SizeIndex]); e < end {
			end = e
		}
	}
	return end
}

func payloadCursor(raw []byte) *cursor {
	return newCursor(raw, frame.PayloadIndex, bodyEnd(raw), frame.ErrResponseTruncated)
}

// ParseWriteResult checks the acknowledgement of a write.
func ParseWriteResult(raw []byte, msgID uint8) error {
	if err := precheck(raw, msgID, frame.PayloadIndex+2); err != nil {
		return err
	}
	return resultError(raw, msgID)
}

func ParseGeneralConfig(raw []byte) (SensorConfig, error) {
	if err := precheck(raw, MsgGeneralConfig, Catalogue[GeneralConfig].MinResponse); err != nil {
		return SensorConfig{}, err
	}
	c := payloadCursor(raw)
	var s SensorConfig
	s.Orientation = Orientation(c.u8())
	c.skip(1)
	s.Location = c.text(LocationWidth, packedConfigWidth)
	s.Description = c.text(DescriptionWidth, 2*DescriptionWidth)
	s.Serial = frame.TrimNUL(c.bytes(SerialWidth))
	s.Units = c.u8()
	if c.err != nil {
		return SensorConfig{}, c.err
	}
	return s, resultError(raw, MsgGeneralConfig)
}

func readPushDestination(c *cursor) PushDestination {
	return PushDestination{
		Port:    c.u8(),
		Format:  c.u8(),
		Enabled: c.u8() != 0,
		Dest:    frame.Address{Subnet: c.u8(), ID: c.u16()},
	}
}

func ParseDataPush(raw []byte) (DataPushConfig, error) {
	if err := precheck(raw, MsgDataPush, Catalogue[DataPush].MinResponse); err != nil {
		return DataPushConfig{}, err
	}
	c := payloadCursor(raw)
	var d DataPushConfig
	d.DataInterval = c.u16()
	d.IntervalMode = IntervalMode(c.u8())
	d.Event = readPushDestination(c)
	d.Interval = readPushDestination(c)
	d.Presence = readPushDestination(c)
	d.LoopSeparation = c.fixed16()
	d.LoopSize = c.fixed16()
	if c.err != nil {
		return DataPushConfig{}, c.err
	}
	return d, resultError(raw, MsgDataPush)
}

func ParseGlobalPush(raw []byte) (bool, error) {
	if err := precheck(raw, MsgGlobalPush, Catalogue[GlobalPush].MinResponse); err != nil {
		return false, err
	}
	return raw[frame.PayloadIndex] != 0, resultError(raw, MsgGlobalPush)
}

func ParseUARTPush(raw []byte) (UARTPushModes, error) {
	if err := precheck(raw, MsgUARTPush, Catalogue[UARTPush].MinResponse); err != nil {
		return UARTPushModes{}, err
	}
	p := raw[frame.PayloadIndex:]
	m := UARTPushModes{RS485: p[0] != 0, RS232: p[1] != 0, Exp0: p[2] != 0, Exp1: p[3] != 0}
	return m, resultError(raw, MsgUARTPush)
}

func ParseClock(raw []byte) (frame.DateTime, error) {
	if err := precheck(raw, MsgClock, Catalogue[Clock].MinResponse); err != nil {
		return frame.DateTime{}, err
	}
	d, err := frame.UnpackDateTime(raw[frame.PayloadIndex:])
	if err != nil {
		return frame.DateTime{}, err
	}
	return d, resultError(raw, MsgClock)
}

// ParseApproaches decodes the approach table. The sub-id carries the number
// of approaches returned and the first payload byte the number configured;
// descriptions, directions and lane counts are present for every returned
// approach, lane lists only for configured ones.
func ParseApproaches(raw []byte) (ApproachTable, error) {
	if err := precheck(raw, MsgApproaches, Catalogue[Approaches].MinResponse); err != nil {
		return ApproachTable{}, err
	}
	t := ApproachTable{Returned: int(raw[frame.SubIDIndex]), Configured: int(raw[frame.PayloadIndex])}
	n := min(t.Returned, t.Configured)
	t.Approaches = make([]Approach, n)

	c := payloadCursor(raw)
	c.skip(1)
	for j := 0; j < t.Returned; j++ {
		if j < n {
			t.Approaches[j].Description = c.text(ApproachDescWidth, ApproachDescWidth)
		} else {
			c.skip(ApproachDescWidth)
		}
	}
	for j := 0; j < t.Returned; j++ {
		d := c.u8()
		if j < n {
			t.Approaches[j].Direction = d
		}
	}
	counts := make([]int, t.Returned)
	for j := range counts {
		counts[j] = int(c.u8())
	}
	for j := 0; j < n; j++ {
		t.Approaches[j].Lanes = c.bytes(counts[j])
	}
	if c.err != nil {
		return ApproachTable{}, c.err
	}
	return t, resultError(raw, MsgApproaches)
}

// ParseLanes decodes the active-lane table. Lane entries start three bytes
// into the payload, each an 8-byte description (16 when packed) followed by a
// direction byte: non-zero is 'L', zero is 'R'.
func ParseLanes(raw []byte) (LaneTable, error) {
	if err := precheck(raw, MsgLanes, Catalogue[Lanes].MinResponse); err != nil {
		return LaneTable{}, err
	}
	t := LaneTable{Returned: int(raw[frame.SubIDIndex]), Configured: int(raw[frame.PayloadIndex])}
	n := min(t.Returned, t.Configured)
	t.Lanes = make([]Lane, n)

	c := payloadCursor(raw)
	c.skip(3)
	for i := 0; i < n; i++ {
		t.Lanes[i].Description = c.text(LaneDescWidth, packedLaneDescWidth)
		t.Lanes[i].Direction = 'R'
		if c.u8() != 0 {
			t.Lanes[i].Direction = 'L'
		}
	}
	if c.err != nil {
		return LaneTable{}, c.err
	}
	return t, resultError(raw, MsgLanes)
}

// BoundCount derives the number of 8.8 bounds in a bin response from its
// payload-size byte: (payloadSize - 3) / 2.
func BoundCount(raw []byte) int {
	if len(raw) <= frame.SizeIndex || int(raw[frame.SizeIndex]) < frame.ControlSize {
		return 0
	}
	return (int(raw[frame.SizeIndex]) - frame.ControlSize) / 2
}

func parseBounds(raw []byte, n int) ([]frame.Fixed88, error) {
	c := payloadCursor(raw)
	out := make([]frame.Fixed88, n)
	for i := range out {
		out[i] = c.fixed16()
	}
	if c.err != nil {
		return nil, c.err
	}
	return out, nil
}

// ParseClassification decodes up to eight length boundaries.
func ParseClassification(raw []byte) ([]frame.Fixed88, error) {
	if err := precheck(raw, MsgClassification, Catalogue[Classification].MinResponse); err != nil {
		return nil, err
	}
	bounds, err := parseBounds(raw, min(BoundCount(raw), MaxClassifications))
	if err != nil {
		return nil, err
	}
	return bounds, resultError(raw, MsgClassification)
}

// ParseSpeedBins decodes up to fifteen speed boundaries. The count derived
// from the payload size is confirmed against the count in the sub-id; the
// smaller of the two wins.
func ParseSpeedBins(raw []byte) ([]frame.Fixed88, error) {
	if err := precheck(raw, MsgSpeedBins, Catalogue[SpeedBins].MinResponse); err != nil {
		return nil, err
	}
	n := min(BoundCount(raw), MaxSpeedBins)
	if sub := int(raw[frame.SubIDIndex]); sub < n {
		n = sub
	}
	bounds, err := parseBounds(raw, n)
	if err != nil {
		return nil, err
	}
	return bounds, resultError(raw, MsgSpeedBins)
}

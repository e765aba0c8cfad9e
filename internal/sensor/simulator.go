package sensor

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shaunagostinho/sshdlink/internal/command"
	"github.com/shaunagostinho/sshdlink/internal/frame"
)

// DeviceState is the configuration a Simulator answers with.
type DeviceState struct {
	Config         command.SensorConfig
	Push           command.DataPushConfig
	GlobalPush     bool
	UART           command.UARTPushModes
	DirectionBins  bool
	Approaches     []command.Approach
	Lanes          []command.Lane
	Classification []frame.Fixed88
	SpeedBins      []frame.Fixed88
}

// DefaultDeviceState is a four-lane, two-approach sensor.
func DefaultDeviceState() DeviceState {
	return DeviceState{
		Config: command.SensorConfig{
			Orientation: command.North,
			Location:    "Demo Ave & 1st St",
			Description: "Simulated SmartSensor",
			Serial:      "SIM0000000000001",
		},
		Push: command.DataPushConfig{
			DataInterval: 10,
			IntervalMode: command.IntervalCircular,
			LoopSize:     frame.NewFixed88(6, 0),
		},
		Approaches: []command.Approach{
			{Description: "Northbound", Direction: 'N', Lanes: []uint8{1, 2}},
			{Description: "Southbound", Direction: 'S', Lanes: []uint8{3, 4}},
		},
		Lanes: []command.Lane{
			{Description: "NB Left", Direction: 'L'},
			{Description: "NB Right", Direction: 'R'},
			{Description: "SB Left", Direction: 'L'},
			{Description: "SB Right", Direction: 'R'},
		},
		Classification: []frame.Fixed88{
			frame.NewFixed88(10, 0), frame.NewFixed88(20, 0), frame.NewFixed88(40, 0),
		},
		SpeedBins: []frame.Fixed88{
			frame.NewFixed88(20, 0), frame.NewFixed88(40, 0), frame.NewFixed88(60, 0),
			frame.NewFixed88(command.SpeedCatchAll, 0),
		},
	}
}

// IntervalHandler answers an interval-data request. The records are sent
// first; a non-zero code then follows as a result frame.
type IntervalHandler func(req command.IntervalRequest) ([]*command.IntervalRecord, uint16)

// Simulator is an in-memory sensor speaking the Z1 protocol. It implements
// transport.Stream: each Write is answered synchronously into the receive
// buffer.
type Simulator struct {
	mu       sync.Mutex
	codec    *frame.Codec
	state    DeviceState
	out      []byte
	closed   bool
	packed   bool
	offset   time.Duration
	rng      *rand.Rand
	silence  int
	inject   map[uint8]uint16
	interval IntervalHandler
	filter   func(msgID uint8, payload []byte) []byte
	requests []uint8
}

// NewSimulator returns a simulator in state.
func NewSimulator(state DeviceState) *Simulator {
	s := &Simulator{
		codec:  frame.NewCodec(nil),
		state:  state,
		rng:    rand.New(rand.NewSource(1)),
		inject: make(map[uint8]uint16),
	}
	s.interval = s.generateRecords
	return s
}

// State returns a copy of the current device state.
func (s *Simulator) State() DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetPackedText makes text fields reply in the packed encoding.
func (s *Simulator) SetPackedText(packed bool) {
	s.mu.Lock()
	s.packed = packed
	s.mu.Unlock()
}

// SetIntervalHandler replaces the interval-data generator.
func (s *Simulator) SetIntervalHandler(h IntervalHandler) {
	s.mu.Lock()
	s.interval = h
	s.mu.Unlock()
}

// SetReplyFilter installs f to rewrite the payload of every data reply
// before it is framed. A nil f removes the filter.
func (s *Simulator) SetReplyFilter(f func(msgID uint8, payload []byte) []byte) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

// InjectError makes the next request for msgID fail with code.
func (s *Simulator) InjectError(msgID uint8, code uint16) {
	s.mu.Lock()
	s.inject[msgID] = code
	s.mu.Unlock()
}

// Silence drops the replies to the next n requests.
func (s *Simulator) Silence(n int) {
	s.mu.Lock()
	s.silence = n
	s.mu.Unlock()
}

// Requests returns the message ids received so far.
func (s *Simulator) Requests() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint8(nil), s.requests...)
}

func (s *Simulator) Write(p []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return frame.ErrWriteTimeout
	}
	req, err := s.codec.Decode(p)
	if err != nil {
		log.Printf("[sim] dropping malformed request: %v", err)
		if len(p) > frame.MsgIDIndex {
			s.result(p[frame.MsgIDIndex], frame.CodeBodyCRC)
		}
		return nil
	}
	s.requests = append(s.requests, req.MsgID)
	if s.silence > 0 {
		s.silence--
		return nil
	}
	if code, ok := s.inject[req.MsgID]; ok {
		delete(s.inject, req.MsgID)
		s.result(req.MsgID, code)
		return nil
	}
	s.handle(req)
	return nil
}

func (s *Simulator) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out)
}

// WaitForBytes never blocks for long: replies are produced synchronously, so
// anything not buffered yet is not coming. It still sleeps out the timeout to
// keep the caller's timing honest.
func (s *Simulator) WaitForBytes(n int, timeout time.Duration) bool {
	if s.Buffered() >= n {
		return true
	}
	time.Sleep(timeout)
	return s.Buffered() >= n
}

func (s *Simulator) Read(n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	n = min(n, len(s.out))
	b := append([]byte(nil), s.out[:n]...)
	s.out = s.out[n:]
	return b
}

func (s *Simulator) Discard() {
	s.mu.Lock()
	s.out = nil
	s.mu.Unlock()
}

// Err reports io.ErrClosedPipe once the simulator has been closed.
func (s *Simulator) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %w", frame.ErrConnectionLost, io.ErrClosedPipe)
	}
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Simulator) reopen() {
	s.mu.Lock()
	s.closed = false
	s.out = nil
	s.mu.Unlock()
}

func (s *Simulator) reply(msgID, subID uint8, payload []byte) {
	if s.filter != nil {
		payload = s.filter(msgID, payload)
	}
	raw, err := s.codec.Encode(frame.Address{}, 0, msgID, subID, frame.TypeRead, payload)
	if err != nil {
		log.Printf("[sim] reply to 0x%02X: %v", msgID, err)
		s.result(msgID, frame.CodePayloadSize)
		return
	}
	s.out = append(s.out, raw...)
}

func (s *Simulator) result(msgID uint8, code uint16) {
	raw, _ := s.codec.Encode(frame.Address{}, 0, msgID, 0, frame.TypeResult, binary.BigEndian.AppendUint16(nil, code))
	s.out = append(s.out, raw...)
}

// payloadOf strips the header, control bytes and body CRC from a built frame.
func payloadOf(raw []byte) []byte {
	return raw[frame.PayloadIndex : len(raw)-1]
}

func (s *Simulator) text(v string, width int) []byte {
	if s.packed || v == "" {
		return frame.PackText(v, 2*width)
	}
	return frame.EncodeText(v, width)
}

func (s *Simulator) handle(req *frame.Frame) {
	if req.Type == frame.TypeWrite {
		s.write(req)
		return
	}
	b := command.NewBuilder(s.codec, frame.Address{})
	st := &s.state
	switch req.MsgID {
	case command.MsgGeneralConfig:
		c := st.Config
		p := []byte{byte(c.Orientation), byte(c.Orientation)}
		p = append(p, s.text(c.Location, command.LocationWidth)...)
		p = append(p, s.text(c.Description, command.DescriptionWidth)...)
		p = append(p, frame.EncodeText(c.Serial, command.SerialWidth)...)
		p = append(p, c.Units)
		s.reply(req.MsgID, 0, p)
	case command.MsgDataPush:
		raw, _ := b.WriteDataPush(st.Push)
		s.reply(req.MsgID, 0, payloadOf(raw))
	case command.MsgGlobalPush:
		s.reply(req.MsgID, 0, []byte{boolByte(st.GlobalPush)})
	case command.MsgUARTPush:
		raw, _ := b.WriteUARTPush(st.UART)
		s.reply(req.MsgID, 0, payloadOf(raw))
	case command.MsgClock:
		d := frame.PackDateTime(frame.DateTimeFromTime(time.Now().UTC().Add(s.offset)))
		s.reply(req.MsgID, 0, d[:])
	case command.MsgApproaches:
		raw, _ := b.WriteApproaches(st.Approaches)
		s.reply(req.MsgID, uint8(len(st.Approaches)), payloadOf(raw))
	case command.MsgLanes:
		p := []byte{uint8(len(st.Lanes)), 0, 0}
		for _, l := range st.Lanes {
			p = append(p, s.text(l.Description, command.LaneDescWidth)...)
			p = append(p, boolByte(l.Direction == 'L'))
		}
		s.reply(req.MsgID, uint8(len(st.Lanes)), p)
	case command.MsgClassification:
		raw, _ := b.WriteClassification(st.Classification)
		s.reply(req.MsgID, uint8(len(st.Classification)), payloadOf(raw))
	case command.MsgSpeedBins:
		raw, _ := b.WriteSpeedBins(st.SpeedBins)
		s.reply(req.MsgID, uint8(len(st.SpeedBins)), payloadOf(raw))
	case command.MsgIntervalData:
		s.intervalData(req)
	default:
		s.result(req.MsgID, frame.CodePayloadSize)
	}
}

// asRead re-frames a write payload as the read response carrying the same
// layout, so the response parsers can decode it.
func (s *Simulator) asRead(req *frame.Frame) []byte {
	raw, err := s.codec.Encode(frame.Address{}, 0, req.MsgID, req.SubID, frame.TypeRead, req.Payload)
	if err != nil {
		return nil
	}
	return raw
}

func (s *Simulator) write(req *frame.Frame) {
	st := &s.state
	p := req.Payload
	code := frame.CodeNone
	switch req.MsgID {
	case command.MsgGeneralConfig:
		// Writes are always contiguous, so the fields sit at fixed offsets.
		if len(p) != 83 || !command.Orientation(p[0]).Valid() {
			code = frame.CodePayloadSize
			break
		}
		st.Config = command.SensorConfig{
			Orientation: command.Orientation(p[0]),
			Location:    trimText(p[2:34]),
			Description: trimText(p[34:66]),
			Serial:      trimText(p[66:82]),
			Units:       p[82],
		}
	case command.MsgDataPush:
		if len(p) != 25 {
			code = frame.CodePayloadSize
			break
		}
		cfg, err := command.ParseDataPush(s.asRead(req))
		if err != nil {
			code = frame.CodePayloadSize
			break
		}
		if cfg.IntervalMode > command.IntervalFillOnce {
			code = frame.CodeInvalidPushState
			break
		}
		st.Push = cfg
	case command.MsgGlobalPush:
		if len(p) != 1 {
			code = frame.CodePayloadSize
			break
		}
		st.GlobalPush = p[0] != 0
	case command.MsgUARTPush:
		if len(p) != 4 {
			code = frame.CodePayloadSize
			break
		}
		st.UART = command.UARTPushModes{RS485: p[0] != 0, RS232: p[1] != 0, Exp0: p[2] != 0, Exp1: p[3] != 0}
	case command.MsgClock:
		if len(p) != frame.DateTimeSize {
			code = frame.CodePayloadSize
			break
		}
		d, _ := frame.UnpackDateTime(p)
		if d.Month < 1 || d.Month > 12 || d.Day < 1 || d.Day > 31 || d.Hour > 23 {
			code = frame.CodeRTCSet
			break
		}
		s.offset = time.Until(d.Time(time.UTC))
	case command.MsgClockOffset: // shared with the direction-bin flag; told apart by size
		switch len(p) {
		case 2:
			d := time.Duration(binary.BigEndian.Uint16(p)) * time.Second
			if req.SubID != 0 {
				d = -d
			}
			s.offset += d
		case 1:
			st.DirectionBins = p[0] != 0
		default:
			code = frame.CodePayloadSize
		}
	case command.MsgApproaches:
		t, err := command.ParseApproaches(s.asRead(req))
		if err != nil {
			code = frame.CodePayloadSize
			break
		}
		st.Approaches = t.Approaches
	case command.MsgLanes:
		if len(p) < 1 || len(p) != 1+9*int(p[0]) {
			code = frame.CodePayloadSize
			break
		}
		lanes := make([]command.Lane, p[0])
		for i := range lanes {
			e := p[1+9*i:]
			lanes[i] = command.Lane{Description: trimText(e[:command.LaneDescWidth]), Direction: 'R'}
			if e[command.LaneDescWidth] != 0 {
				lanes[i].Direction = 'L'
			}
		}
		st.Lanes = lanes
	case command.MsgClassification, command.MsgSpeedBins:
		limit := command.MaxClassifications
		if req.MsgID == command.MsgSpeedBins {
			limit = command.MaxSpeedBins
		}
		n := int(req.SubID)
		if n > limit || len(p) != 2*n {
			code = frame.CodePayloadSize
			break
		}
		bounds := make([]frame.Fixed88, n)
		for i := range bounds {
			bounds[i] = frame.Fixed16At(p, 2*i)
		}
		if req.MsgID == command.MsgSpeedBins {
			st.SpeedBins = bounds
		} else {
			st.Classification = bounds
		}
	case command.MsgIntervalData:
		code = frame.CodeWriteOnReadOnly
	default:
		code = frame.CodePayloadSize
	}
	s.result(req.MsgID, code)
}

func (s *Simulator) intervalData(req *frame.Frame) {
	if len(req.Payload) != frame.DateTimeSize+1 {
		s.result(req.MsgID, frame.CodePayloadSize)
		return
	}
	since, _ := frame.UnpackDateTime(req.Payload)
	ir := command.IntervalRequest{
		Type:   command.RequestType(req.SubID),
		Target: req.Payload[frame.DateTimeSize],
		Since:  since,
	}
	records, code := s.interval(ir)
	for _, r := range records {
		s.reply(req.MsgID, req.SubID, command.EncodeIntervalRecord(r))
	}
	if code != frame.CodeNone {
		s.result(req.MsgID, code)
	}
}

// generateRecords produces one plausible record per requested lane or
// approach, one interval after since.
func (s *Simulator) generateRecords(req command.IntervalRequest) ([]*command.IntervalRecord, uint16) {
	st := &s.state
	var n int
	switch req.Type {
	case command.RequestLane, command.RequestApproach:
		avail := len(st.Lanes)
		if req.Type == command.RequestApproach {
			avail = len(st.Approaches)
		}
		switch {
		case req.Target == command.AllTargets:
			n = avail
		case req.Target == 0 || int(req.Target) > avail:
			return nil, frame.CodeLaneNotFound
		default:
			n = 1
		}
	case command.RequestAll:
		n = len(st.Lanes) + len(st.Approaches)
	default:
		return nil, frame.CodePayloadSize
	}

	ts := frame.DateTimeFromTime(since(req.Since).Add(time.Duration(st.Push.DataInterval) * time.Second))
	out := make([]*command.IntervalRecord, 0, n)
	for i := 0; i < n; i++ {
		speed := 45 + 20*s.rng.Float64()
		volume := uint32(5 + s.rng.Intn(40))
		r := &command.IntervalRecord{
			Timestamp:  ts,
			Duration:   st.Push.DataInterval,
			Lanes:      uint8(len(st.Lanes)),
			Approaches: uint8(len(st.Approaches)),
			AvgSpeed:   math.Round(speed*256) / 256,
			Volume:     volume,
			Occupancy:  math.Round(s.rng.Float64()*30*256) / 256,
			Speed85th:  math.Round((speed+8)*256) / 256,
			HeadwayMS:  uint32(1500 + s.rng.Intn(3000)),
			GapMS:      uint32(900 + s.rng.Intn(2500)),
		}
		r.Bins = append(r.Bins,
			command.BinBlock{Kind: 0, Counts: spread(s.rng, volume, len(st.Classification))},
			command.BinBlock{Kind: 1, Counts: spread(s.rng, volume, len(st.SpeedBins))},
		)
		out = append(out, r)
	}
	return out, frame.CodeNone
}

func since(d frame.DateTime) time.Time {
	if d.Month == 0 {
		return time.Now().UTC()
	}
	return d.Time(time.UTC)
}

// spread splits total across n bins.
func spread(rng *rand.Rand, total uint32, n int) []uint32 {
	out := make([]uint32, n)
	for i := 0; i < int(total) && n > 0; i++ {
		out[rng.Intn(n)]++
	}
	return out
}

func trimText(b []byte) string {
	s, _, _ := frame.DecodeText(b, len(b), len(b))
	return s
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

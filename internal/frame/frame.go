// Package frame implements the Z1 two-part frame used by every request and
// response exchanged with the sensor.
//
// Layout:
//
//	0-1   version "Z1"
//	2     destination subnet id
//	3-4   destination id (big-endian)
//	5     source subnet id
//	6-7   source id (big-endian, zero for requests)
//	8     sequence number
//	9     payload size (body bytes, excluding the body CRC)
//	10    header CRC8 over bytes 0-9
//	11    message id
//	12    message sub-id
//	13    message type (0 read, 1 write, 2 result)
//	14..  command payload
//	last  body CRC8 over message id .. payload
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/shaunagostinho/sshdlink/internal/crc8"
)

const (
	HeaderSize     = 10 // header bytes before the header CRC
	HeaderCRCIndex = 10
	BodyIndex      = 11
	MsgIDIndex     = 11
	SubIDIndex     = 12
	TypeIndex      = 13
	PayloadIndex   = 14
	SizeIndex      = 9

	// ControlSize is message id + sub-id + type.
	ControlSize = 3

	// MinSize is the smallest structurally valid frame: header, its CRC, the
	// three control bytes and the body CRC.
	MinSize = HeaderSize + 1 + ControlSize + 1

	// MaxPayload is the largest command payload a one-byte size field allows.
	MaxPayload = 0xFF - ControlSize
)

var version = [2]byte{'Z', '1'}

// MsgType is the body's message-type byte.
type MsgType uint8

const (
	TypeRead   MsgType = 0
	TypeWrite  MsgType = 1
	TypeResult MsgType = 2
)

func (t MsgType) String() string {
	switch t {
	case TypeRead:
		return "read"
	case TypeWrite:
		return "write"
	case TypeResult:
		return "result"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Address identifies a sensor on the bus.
type Address struct {
	Subnet uint8  `yaml:"subnet" json:"subnet"`
	ID     uint16 `yaml:"id" json:"id"`
}

// Header is the decoded 10-byte frame header.
type Header struct {
	Dest        Address
	Src         Address
	Seq         uint8
	PayloadSize uint8
}

// Frame is a decoded and CRC-verified frame.
type Frame struct {
	Header
	MsgID   uint8
	SubID   uint8
	Type    MsgType
	Payload []byte
}

// ErrorCode returns the device error code of a result frame, or CodeNone for
// any other frame type.
func (f *Frame) ErrorCode() uint16 {
	if f.Type != TypeResult || len(f.Payload) < 2 {
		return CodeNone
	}
	return binary.BigEndian.Uint16(f.Payload[:2])
}

// Err converts a non-zero result code into a *DeviceError.
func (f *Frame) Err() error {
	if code := f.ErrorCode(); code != CodeNone {
		return &DeviceError{MsgID: f.MsgID, Code: code}
	}
	return nil
}

// Codec builds and validates frames with an injected CRC table.
type Codec struct {
	crc *crc8.Table
}

// NewCodec returns a codec using table. A nil table selects crc8.Default().
func NewCodec(table *crc8.Table) *Codec {
	if table == nil {
		table = crc8.Default()
	}
	return &Codec{crc: table}
}

// Table returns the codec's CRC table.
func (c *Codec) Table() *crc8.Table { return c.crc }

// EncodeHeader returns the 10 header bytes followed by their CRC.
func (c *Codec) EncodeHeader(dest Address, seq, payloadSize uint8) []byte {
	h := make([]byte, 0, HeaderSize+1)
	h = append(h, version[0], version[1])
	h = append(h, dest.Subnet)
	h = binary.BigEndian.AppendUint16(h, dest.ID)
	h = append(h, 0x00)       // source subnet
	h = append(h, 0x00, 0x00) // source id
	h = append(h, seq, payloadSize)
	return append(h, c.crc.Checksum(h))
}

// EncodeBody returns message id, sub-id, type and payload followed by the body CRC.
func (c *Codec) EncodeBody(msgID, subID uint8, typ MsgType, payload []byte) []byte {
	b := make([]byte, 0, ControlSize+len(payload)+1)
	b = append(b, msgID, subID, uint8(typ))
	b = append(b, payload...)
	return append(b, c.crc.Checksum(b))
}

// Encode returns a complete frame. The header's payload-size field is the
// body length without its CRC.
func (c *Codec) Encode(dest Address, seq, msgID, subID uint8, typ MsgType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	size := uint8(ControlSize + len(payload))
	out := c.EncodeHeader(dest, seq, size)
	return append(out, c.EncodeBody(msgID, subID, typ, payload)...), nil
}

// Decode validates raw and returns the decoded frame. Both CRCs are checked
// before any payload is interpreted.
func (c *Codec) Decode(raw []byte) (*Frame, error) {
	if err := MarkerError(raw); err != nil {
		return nil, err
	}
	if len(raw) < MinSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(raw))
	}
	if raw[0] != version[0] || raw[1] != version[1] {
		return nil, fmt.Errorf("%w: got % X", ErrBadVersion, raw[:2])
	}
	if got, want := raw[HeaderCRCIndex], c.crc.Checksum(raw[:HeaderSize]); got != want {
		return nil, fmt.Errorf("%w: header got 0x%02X, want 0x%02X", ErrCRCMismatch, got, want)
	}
	size := int(raw[SizeIndex])
	if size < ControlSize {
		return nil, fmt.Errorf("%w: payload size %d", ErrFrameTooShort, size)
	}
	end := BodyIndex + size
	if len(raw) < end+1 {
		return nil, fmt.Errorf("%w: have %d bytes, header says %d", ErrFrameTooShort, len(raw), end+1)
	}
	if got, want := raw[end], c.crc.Checksum(raw[BodyIndex:end]); got != want {
		return nil, fmt.Errorf("%w: body got 0x%02X, want 0x%02X", ErrCRCMismatch, got, want)
	}

	f := &Frame{
		Header: Header{
			Dest:        Address{Subnet: raw[2], ID: binary.BigEndian.Uint16(raw[3:5])},
			Src:         Address{Subnet: raw[5], ID: binary.BigEndian.Uint16(raw[6:8])},
			Seq:         raw[8],
			PayloadSize: raw[SizeIndex],
		},
		MsgID: raw[MsgIDIndex],
		SubID: raw[SubIDIndex],
		Type:  MsgType(raw[TypeIndex]),
	}
	f.Payload = append([]byte(nil), raw[PayloadIndex:end]...)
	return f, nil
}

// Verify checks raw's structure and both CRCs.
func (c *Codec) Verify(raw []byte) error {
	_, err := c.Decode(raw)
	return err
}

// ResultCode extracts the error code from a raw result frame. ok is false when
// raw is not a result frame or too short to carry a code.
func ResultCode(raw []byte) (code uint16, ok bool) {
	if len(raw) < PayloadIndex+2 || MsgType(raw[TypeIndex]) != TypeResult {
		return 0, false
	}
	return binary.BigEndian.Uint16(raw[PayloadIndex:]), true
}

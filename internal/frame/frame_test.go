package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/shaunagostinho/sshdlink/internal/crc8"
)

func TestEncodeReadRequest(t *testing.T) {
	c := NewCodec(crc8.Default())
	got, err := c.Encode(Address{ID: 0x0168}, 0, 0x2A, 0, TypeRead, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{'Z', '1', 0x00, 0x01, 0x68, 0x00, 0x00, 0x00, 0x00, 0x03, 0x80, 0x2A, 0x00, 0x00, 0x40}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode =\n% X\nwant\n% X", got, want)
	}
}

func TestEncodeFraming(t *testing.T) {
	c := NewCodec(nil)
	tab := c.Table()
	for _, l := range []int{0, 1, 5, 86, MaxPayload} {
		payload := bytes.Repeat([]byte{0xA5}, l)
		raw, err := c.Encode(Address{Subnet: 3, ID: 0xBEEF}, 7, 0x13, 2, TypeWrite, payload)
		if err != nil {
			t.Fatalf("len %d: %v", l, err)
		}
		if int(raw[SizeIndex]) != ControlSize+l {
			t.Errorf("len %d: size byte = %d, want %d", l, raw[SizeIndex], ControlSize+l)
		}
		if len(raw) != HeaderSize+1+ControlSize+l+1 {
			t.Errorf("len %d: frame length = %d", l, len(raw))
		}
		if raw[HeaderCRCIndex] != tab.Checksum(raw[:HeaderSize]) {
			t.Errorf("len %d: header CRC wrong", l)
		}
		last := len(raw) - 1
		if raw[last] != tab.Checksum(raw[BodyIndex:last]) {
			t.Errorf("len %d: body CRC wrong", l)
		}
		if raw[6] != 0 || raw[7] != 0 || raw[5] != 0 {
			t.Errorf("len %d: source fields must be zero", l)
		}
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	c := NewCodec(nil)
	_, err := c.Encode(Address{}, 0, 1, 0, TypeWrite, make([]byte, MaxPayload+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	c := NewCodec(nil)
	raw, _ := c.Encode(Address{Subnet: 1, ID: 0x0102}, 9, 0x0E, 4, TypeWrite, []byte{1, 2, 3})
	f, err := c.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Dest.ID != 0x0102 || f.Dest.Subnet != 1 || f.Seq != 9 || f.MsgID != 0x0E || f.SubID != 4 || f.Type != TypeWrite {
		t.Errorf("unexpected frame: %+v", f)
	}
	if !bytes.Equal(f.Payload, []byte{1, 2, 3}) {
		t.Errorf("payload = % X", f.Payload)
	}
}

func TestDecodeRejects(t *testing.T) {
	c := NewCodec(nil)
	good, _ := c.Encode(Address{ID: 1}, 0, 0x2A, 0, TypeRead, []byte{9, 9})

	badHeader := append([]byte(nil), good...)
	badHeader[3] ^= 0xFF
	badBody := append([]byte(nil), good...)
	badBody[PayloadIndex] ^= 0x01
	badVersion := append([]byte(nil), good...)
	badVersion[0] = 'X'

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"empty", nil, ErrFrameTooShort},
		{"twelve bytes", good[:12], ErrFrameTooShort},
		{"body cut", good[:len(good)-1], ErrFrameTooShort},
		{"header crc", badHeader, ErrCRCMismatch},
		{"body crc", badBody, ErrCRCMismatch},
		{"version", badVersion, ErrBadVersion},
		{"read marker", ReadTimeoutMarker, ErrReadTimeout},
		{"write marker", WriteTimeoutMarker, ErrWriteTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decode(tt.raw); !errors.Is(err, tt.want) {
				t.Errorf("Decode err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResultFrame(t *testing.T) {
	c := NewCodec(nil)
	raw, _ := c.Encode(Address{}, 0, 0x74, 0, TypeResult, []byte{0x00, 0x0F})
	code, ok := ResultCode(raw)
	if !ok || code != CodeIntervalNotFound {
		t.Fatalf("ResultCode = 0x%04X, %v", code, ok)
	}
	f, err := c.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !IsIntervalNotFound(f.Err()) {
		t.Errorf("Err() = %v, want interval-not-found", f.Err())
	}
	var de *DeviceError
	if !errors.As(f.Err(), &de) || de.MsgID != 0x74 {
		t.Errorf("Err() = %#v", f.Err())
	}
}

func TestMarkerError(t *testing.T) {
	if MarkerError([]byte("Z1...")) != nil {
		t.Error("frame misclassified as marker")
	}
	if MarkerError(ReadTimeoutMarker) != ErrReadTimeout {
		t.Error("read marker")
	}
	if MarkerError(WriteTimeoutMarker) != ErrWriteTimeout {
		t.Error("write marker")
	}
}

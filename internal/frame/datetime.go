package frame

import (
	"fmt"
	"time"
)

// DateTimeSize is the wire width of a packed date/time.
const DateTimeSize = 8

// DateTime is the sensor's clock value. Year is an opaque 12-bit field that is
// round-tripped as-is; the sensor stores the full calendar year in it.
type DateTime struct {
	Year        uint16 `json:"year"`
	Month       uint8  `json:"month"`
	Day         uint8  `json:"day"`
	Hour        uint8  `json:"hour"`
	Minute      uint8  `json:"minute"`
	Second      uint8  `json:"second"`
	Millisecond uint16 `json:"millisecond"`
}

// DateTimeFromTime converts t (in its own location) to the sensor layout.
func DateTimeFromTime(t time.Time) DateTime {
	return DateTime{
		Year:        uint16(t.Year()) & 0x0FFF,
		Month:       uint8(t.Month()),
		Day:         uint8(t.Day()),
		Hour:        uint8(t.Hour()),
		Minute:      uint8(t.Minute()),
		Second:      uint8(t.Second()),
		Millisecond: uint16(t.Nanosecond() / int(time.Millisecond)),
	}
}

// Time converts d to a time.Time in loc.
func (d DateTime) Time(loc *time.Location) time.Time {
	return time.Date(int(d.Year), time.Month(d.Month), int(d.Day),
		int(d.Hour), int(d.Minute), int(d.Second), int(d.Millisecond)*int(time.Millisecond), loc)
}

func (d DateTime) String() string {
	return fmt.Sprintf("%02d/%02d/%04d %02d:%02d:%02d", d.Month, d.Day, d.Year, d.Hour, d.Minute, d.Second)
}

// PackDateTime encodes d into the sensor's 8-byte bit layout. The layout is a
// hardware contract and straddles byte boundaries:
//
//	byte 0  spare
//	byte 1  bits 4-0: year bits 11-7
//	byte 2  bits 7-1: year bits 6-0, bit 0: month bit 3
//	byte 3  bits 7-5: month bits 2-0, bits 4-0: day
//	byte 4  bits 2-0: hour bits 4-2
//	byte 5  bits 7-6: hour bits 1-0, bits 5-0: minute
//	byte 6  bits 7-2: second, bits 1-0: millisecond bits 9-8
//	byte 7  millisecond bits 7-0
func PackDateTime(d DateTime) [DateTimeSize]byte {
	var b [DateTimeSize]byte
	b[1] = uint8(d.Year>>7) & 0x1F
	b[2] = uint8(d.Year&0x7F)<<1 | (d.Month>>3)&0x01
	b[3] = (d.Month&0x07)<<5 | d.Day&0x1F
	b[4] = (d.Hour & 0x1C) >> 2
	b[5] = (d.Hour&0x03)<<6 | d.Minute&0x3F
	b[6] = (d.Second&0x3F)<<2 | uint8(d.Millisecond>>8)&0x03
	b[7] = uint8(d.Millisecond)
	return b
}

// UnpackDateTime decodes the layout written by PackDateTime from b[0:8].
func UnpackDateTime(b []byte) (DateTime, error) {
	if len(b) < DateTimeSize {
		return DateTime{}, fmt.Errorf("%w: date/time needs %d bytes, have %d", ErrResponseTruncated, DateTimeSize, len(b))
	}
	y1, y2, md := b[1], b[2], b[3]

	yearLo := y2 >> 1
	if y1&0x01 != 0 {
		yearLo |= 0x80
	}
	yearHi := (y1 & 0x1E) >> 1

	month := md >> 5
	if y2&0x01 != 0 {
		month |= 0x08
	}

	return DateTime{
		Year:        uint16(yearHi)<<8 | uint16(yearLo),
		Month:       month,
		Day:         md & 0x1F,
		Hour:        (b[4]&0x07)<<2 | (b[5]&0xC0)>>6,
		Minute:      b[5] & 0x3F,
		Second:      (b[6] & 0xFC) >> 2,
		Millisecond: uint16(b[6]&0x03)<<8 | uint16(b[7]),
	}, nil
}

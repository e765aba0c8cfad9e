package frame

import (
	"errors"
	"fmt"
)

var (
	ErrWriteTimeout          = errors.New("write timed out")
	ErrReadTimeout           = errors.New("read timed out")
	ErrFrameTooShort         = errors.New("frame too short")
	ErrCRCMismatch           = errors.New("frame CRC mismatch")
	ErrBadVersion            = errors.New("frame version is not Z1")
	ErrPayloadTooLarge       = errors.New("payload does not fit in one frame")
	ErrResponseTruncated     = errors.New("response too short, incomplete")
	ErrRecordTruncated       = errors.New("interval record truncated")
	ErrConfigurationRejected = errors.New("configuration rejected by sensor")
	ErrConnectionLost        = errors.New("connection to sensor lost")
)

// Device error codes carried in result (type 2) frames.
const (
	CodeNone             uint16 = 0x0000
	CodePayloadSize      uint16 = 0x0001
	CodeBodyCRC          uint16 = 0x0002
	CodeWriteOnReadOnly  uint16 = 0x0003
	CodeSaveFailed       uint16 = 0x000B
	CodeIntervalNotFound uint16 = 0x000F
	CodeLaneNotFound     uint16 = 0x0010
	CodeFlashBusy        uint16 = 0x0011
	CodeInvalidPushState uint16 = 0x0013
	CodeRTCSet           uint16 = 0x0014
)

var codeText = map[uint16]string{
	CodeNone:             "no error",
	CodePayloadSize:      "payload size incorrect",
	CodeBodyCRC:          "body CRC did not match message",
	CodeWriteOnReadOnly:  "write flag set on read-only message",
	CodeSaveFailed:       "config save to non-volatile memory failed",
	CodeIntervalNotFound: "requested interval does not exist in data",
	CodeLaneNotFound:     "requested lane or approach does not exist in data",
	CodeFlashBusy:        "interval data cannot be retrieved, flash busy",
	CodeInvalidPushState: "attempted to set push config to invalid state",
	CodeRTCSet:           "error setting RTC time",
}

// DescribeCode returns the documented meaning of a device error code.
func DescribeCode(code uint16) string {
	if s, ok := codeText[code]; ok {
		return s
	}
	return "unknown error"
}

// DeviceError is a non-zero error code reported by the sensor in a result frame.
type DeviceError struct {
	MsgID uint8
	Code  uint16
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("sensor error 0x%04X on msg 0x%02X: %s", e.Code, e.MsgID, DescribeCode(e.Code))
}

// IsIntervalNotFound reports whether err carries the interval-not-found code,
// which the streaming loop treats as "no new data" rather than a failure.
func IsIntervalNotFound(err error) bool {
	var de *DeviceError
	return errors.As(err, &de) && de.Code == CodeIntervalNotFound
}

// Timeout markers placed in the response buffer by the transport when an
// exchange fails before a frame arrives.
var (
	WriteTimeoutMarker = []byte("Error: write timed out")
	ReadTimeoutMarker  = []byte("Error: read timed out")
)

// MarkerError classifies a transport timeout marker. It returns nil when resp
// is not a marker. The read/write distinction sits at offset 7 ("Error: r...").
func MarkerError(resp []byte) error {
	if len(resp) == 0 || resp[0] != 'E' {
		return nil
	}
	if len(resp) > 7 && resp[7] == 'r' {
		return ErrReadTimeout
	}
	return ErrWriteTimeout
}

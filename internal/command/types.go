package command

import (
	"errors"
	"fmt"

	"github.com/shaunagostinho/sshdlink/internal/frame"
)

// ErrInvalidValue is returned by builders for values the wire format cannot carry.
var ErrInvalidValue = errors.New("command: invalid value")

// Field widths.
const (
	LocationWidth       = 32
	DescriptionWidth    = 32
	SerialWidth         = 16
	ApproachDescWidth   = 16
	LaneDescWidth       = 8
	MaxClassifications  = 8
	MaxSpeedBins        = 15
	packedConfigWidth   = 2 * LocationWidth
	packedLaneDescWidth = 2 * LaneDescWidth
)

// Orientation is the compass direction the sensor faces.
type Orientation byte

const (
	North Orientation = 'N'
	East  Orientation = 'E'
	South Orientation = 'S'
	West  Orientation = 'W'
)

func (o Orientation) Valid() bool {
	switch o {
	case North, East, South, West:
		return true
	}
	return false
}

func (o Orientation) String() string { return string(rune(o)) }

func (o Orientation) MarshalText() ([]byte, error) { return []byte{byte(o)}, nil }

func (o *Orientation) UnmarshalText(b []byte) error {
	if len(b) != 1 || !Orientation(b[0]).Valid() {
		return fmt.Errorf("%w: orientation %q", ErrInvalidValue, b)
	}
	*o = Orientation(b[0])
	return nil
}

// SensorConfig is the general configuration block (0x2A).
type SensorConfig struct {
	Orientation Orientation `json:"orientation"`
	Location    string      `json:"location"`
	Description string      `json:"description"`
	Serial      string      `json:"serial"`
	Units       uint8       `json:"units"`
}

// IntervalMode selects how the sensor stores interval data.
type IntervalMode uint8

const (
	IntervalDisabled IntervalMode = 0
	IntervalCircular IntervalMode = 1
	IntervalFillOnce IntervalMode = 2
)

// PushDestination is one of the three data-push channels.
type PushDestination struct {
	Port    uint8         `json:"port" yaml:"port"`
	Format  uint8         `json:"format" yaml:"format"`
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Dest    frame.Address `json:"dest" yaml:"dest"`
}

// DataPushConfig is the data-push configuration block (0x03).
type DataPushConfig struct {
	DataInterval   uint16          `json:"dataInterval" yaml:"data_interval"`
	IntervalMode   IntervalMode    `json:"intervalMode" yaml:"interval_mode"`
	Event          PushDestination `json:"event" yaml:"event"`
	Interval       PushDestination `json:"interval" yaml:"interval"`
	Presence       PushDestination `json:"presence" yaml:"presence"`
	LoopSeparation frame.Fixed88   `json:"loopSeparation" yaml:"loop_separation"`
	LoopSize       frame.Fixed88   `json:"loopSize" yaml:"loop_size"`
}

// UARTPushModes holds the per-channel push states (0x1C).
type UARTPushModes struct {
	RS485 bool `json:"rs485"`
	RS232 bool `json:"rs232"`
	Exp0  bool `json:"exp0"`
	Exp1  bool `json:"exp1"`
}

// Approach is one entry of the approach table (0x28).
type Approach struct {
	Description string  `json:"description"`
	Direction   byte    `json:"direction"`
	Lanes       []uint8 `json:"lanes"`
}

// ApproachTable is a decoded approach-table response.
type ApproachTable struct {
	Returned   int        `json:"returned"`
	Configured int        `json:"configured"`
	Approaches []Approach `json:"approaches"`
}

// Lane is one entry of the active-lane table (0x27). Direction is 'L' or 'R'.
type Lane struct {
	Description string `json:"description"`
	Direction   byte   `json:"direction"`
}

// LaneTable is a decoded active-lane response.
type LaneTable struct {
	Returned   int    `json:"returned"`
	Configured int    `json:"configured"`
	Lanes      []Lane `json:"lanes"`
}

// SpeedCatchAll is the boundary integer part marking the catch-all speed bin.
const SpeedCatchAll = 255

// IsCatchAll reports whether a speed-bin boundary is the catch-all sentinel.
func IsCatchAll(f frame.Fixed88) bool { return f.Int() == SpeedCatchAll }

// RequestType selects what an interval-data request returns.
type RequestType uint8

const (
	RequestLane     RequestType = 1
	RequestApproach RequestType = 2
	RequestAll      RequestType = 3
)

// AllTargets requests every lane or approach.
const AllTargets uint8 = 0xFF

func (r RequestType) String() string {
	switch r {
	case RequestLane:
		return "lane"
	case RequestApproach:
		return "approach"
	case RequestAll:
		return "all"
	default:
		return fmt.Sprintf("request(%d)", uint8(r))
	}
}

// IntervalRequest asks for interval data recorded after Since.
type IntervalRequest struct {
	Type   RequestType
	Target uint8
	Since  frame.DateTime
}

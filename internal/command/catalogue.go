// Package command holds the Z1 command catalogue: one request builder per
// supported command and a response parser for each readable one.
package command

import "fmt"

// Name identifies a command. Message ids are not unique (clock offset and the
// direction-bin flag both travel as 0x1E) so the catalogue is keyed by name.
type Name string

const (
	GeneralConfig  Name = "general-config"
	DataPush       Name = "data-push"
	GlobalPush     Name = "global-push"
	UARTPush       Name = "uart-push"
	Clock          Name = "clock"
	ClockOffset    Name = "clock-offset"
	DirectionBins  Name = "direction-bins"
	Approaches     Name = "approaches"
	Lanes          Name = "lanes"
	Classification Name = "classification"
	SpeedBins      Name = "speed-bins"
	IntervalData   Name = "interval-data"
)

// Message ids.
const (
	MsgGeneralConfig  uint8 = 0x2A
	MsgDataPush       uint8 = 0x03
	MsgGlobalPush     uint8 = 0x0D
	MsgUARTPush       uint8 = 0x1C
	MsgClock          uint8 = 0x0E
	MsgClockOffset    uint8 = 0x1E
	MsgDirectionBins  uint8 = 0x1E
	MsgApproaches     uint8 = 0x28
	MsgLanes          uint8 = 0x27
	MsgClassification uint8 = 0x13
	MsgSpeedBins      uint8 = 0x1D
	MsgIntervalData   uint8 = 0x74
)

// Command describes one catalogue entry.
type Command struct {
	Name  Name
	MsgID uint8

	// Readable commands are requested with a payload-less read frame
	// carrying ReadSubID.
	Readable  bool
	ReadSubID uint8

	// MinResponse is the smallest response that carries every fixed field.
	MinResponse int

	// WriteSize is the payload-size byte of a write, or 0 when it depends
	// on the data.
	WriteSize uint8
}

// Catalogue lists every supported command.
var Catalogue = map[Name]Command{
	GeneralConfig:  {Name: GeneralConfig, MsgID: MsgGeneralConfig, Readable: true, MinResponse: 98, WriteSize: 86},
	DataPush:       {Name: DataPush, MsgID: MsgDataPush, Readable: true, MinResponse: 40, WriteSize: 28},
	GlobalPush:     {Name: GlobalPush, MsgID: MsgGlobalPush, Readable: true, MinResponse: 16, WriteSize: 4},
	UARTPush:       {Name: UARTPush, MsgID: MsgUARTPush, Readable: true, MinResponse: 19, WriteSize: 7},
	Clock:          {Name: Clock, MsgID: MsgClock, Readable: true, MinResponse: 23, WriteSize: 11},
	ClockOffset:    {Name: ClockOffset, MsgID: MsgClockOffset, WriteSize: 5},
	DirectionBins:  {Name: DirectionBins, MsgID: MsgDirectionBins, WriteSize: 4},
	Approaches:     {Name: Approaches, MsgID: MsgApproaches, Readable: true, ReadSubID: 4, MinResponse: 16},
	Lanes:          {Name: Lanes, MsgID: MsgLanes, Readable: true, ReadSubID: 10, MinResponse: 16},
	Classification: {Name: Classification, MsgID: MsgClassification, Readable: true, MinResponse: 15},
	SpeedBins:      {Name: SpeedBins, MsgID: MsgSpeedBins, Readable: true, ReadSubID: MaxSpeedBins, MinResponse: 15},
	IntervalData:   {Name: IntervalData, MsgID: MsgIntervalData, MinResponse: MinRecordSize, WriteSize: 12},
}

// Lookup returns the catalogue entry for name.
func Lookup(name Name) (Command, error) {
	c, ok := Catalogue[name]
	if !ok {
		return Command{}, fmt.Errorf("command: unknown command %q", name)
	}
	return c, nil
}

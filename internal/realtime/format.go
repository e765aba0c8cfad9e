package realtime

import (
	"fmt"
	"strings"

	"github.com/shaunagostinho/sshdlink/internal/command"
)

const (
	spacer = "    "

	// NoDataLine is emitted once when the sensor has no interval newer than
	// the requested timestamp.
	NoDataLine = "No New Data"

	// maxLengthBinColumns caps the length-bin header columns.
	maxLengthBinColumns = 10
)

var headerColumns = []string{
	"Datetime",
	"Interval Duration",
	"Total # Lanes/Apprs",
	"Avg Speed",
	"Volume",
	"Avg Occupancy",
	"85th Pctle Speed",
	"Headway (ms)",
	"Gap (ms)",
}

// HeaderLine returns the column header for a stream with the given bin counts.
func HeaderLine(numClasses, numSpeedBins int) string {
	cols := append([]string(nil), headerColumns...)
	for i := 0; i < numClasses && i < maxLengthBinColumns; i++ {
		cols = append(cols, fmt.Sprintf("Length Bin %d", i+1))
	}
	for i := 0; i < numSpeedBins; i++ {
		cols = append(cols, fmt.Sprintf("Speed Bin %d", i+1))
	}
	return strings.Join(cols, spacer)
}

// FormatRecord renders one interval record as a data line. Bin counts follow
// in block order.
func FormatRecord(r *command.IntervalRecord) string {
	var b strings.Builder
	b.WriteString(r.Timestamp.String())
	fmt.Fprintf(&b, "%s%6d", spacer, r.Duration)
	fmt.Fprintf(&b, "%s%2d/%-2d", spacer, r.Lanes, r.Approaches)
	fmt.Fprintf(&b, "%s%6.2f", spacer, r.AvgSpeed)
	fmt.Fprintf(&b, "%s%6d", spacer, r.Volume)
	fmt.Fprintf(&b, "%s%5.2f", spacer, r.Occupancy)
	fmt.Fprintf(&b, "%s%6.2f", spacer, r.Speed85th)
	fmt.Fprintf(&b, "%s%d", spacer, r.HeadwayMS)
	fmt.Fprintf(&b, "%s%d", spacer, r.GapMS)
	for _, blk := range r.Bins {
		for _, n := range blk.Counts {
			fmt.Fprintf(&b, "%s%d", spacer, n)
		}
	}
	return b.String()
}

// LoopLimit is the number of records one interval request yields: one for a
// specific lane or approach, every lane or every approach for the 0xFF
// target, and lanes plus approaches for a request of everything.
func LoopLimit(typ command.RequestType, target uint8, lanes, approaches int) int {
	switch typ {
	case command.RequestLane, command.RequestApproach:
		if target != command.AllTargets {
			return 1
		}
		if typ == command.RequestLane {
			return lanes
		}
		return approaches
	default:
		return lanes + approaches
	}
}

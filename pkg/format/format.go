// Package format renders runtime quantities for log output.
package format

import (
	"fmt"
	"time"
)

// Latency renders a millisecond latency compactly: "85ms", "1.2s".
func Latency(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

// Duration renders a duration with sensible precision for humans.
func Duration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// EndpointsUp renders a healthy/total pair: "3/4 up".
func EndpointsUp(healthy, total int) string {
	return fmt.Sprintf("%d/%d up", healthy, total)
}

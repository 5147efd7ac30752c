package bitrate

import "strconv"

// Kbps converts bits per second to kilobits per second, rounded to nearest.
func Kbps(bps int) int {
	if bps <= 0 {
		return 0
	}
	return (bps + 500) / 1000
}

// Format renders a bitrate for display, e.g. "128 kbps" or "2.5 Mbps".
func Format(bps int) string {
	k := Kbps(bps)
	switch {
	case k == 0:
		return "-"
	case k >= 1000:
		return strconv.FormatFloat(float64(bps)/1e6, 'f', 1, 64) + " Mbps"
	default:
		return strconv.Itoa(k) + " kbps"
	}
}

package format

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// HumanizeBytes converts a byte count into a human-readable string
// (e.g. "1.5 MB"). Negative counts mean unknown and render as "?".
func HumanizeBytes(b int64) string {
	if b < 0 {
		return "?"
	}
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}
	frac := float64(b) / float64(div)
	return strconv.FormatFloat(frac, 'f', 1, 64) + " " + []string{"KB", "MB", "GB", "TB"}[exp]
}

// Duration renders a media duration as m:ss or h:mm:ss.
func Duration(d time.Duration) string {
	if d <= 0 {
		return "--:--"
	}
	total := int64(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Percent renders a 0..1 fraction as a whole percentage, clamped.
func Percent(f float64) string {
	if math.IsNaN(f) || f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return strconv.Itoa(int(math.Floor(f*100))) + "%"
}

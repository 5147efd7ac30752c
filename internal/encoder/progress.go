package encoder

import (
	"strconv"
	"strings"
	"time"
)

// Stats accumulates the key=value blocks ffmpeg prints with -progress.
type Stats struct {
	OutTime   time.Duration
	Speed     string
	TotalSize int64
	Done      bool
}

// Feed consumes one line. It returns true when the line closes a block
// ("progress=continue" or "progress=end"), i.e. when Stats is fresh.
func (s *Stats) Feed(line string) bool {
	key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return false
	}
	key = strings.TrimSpace(key)
	val = strings.TrimSpace(val)

	switch key {
	case "out_time_us", "out_time_ms":
		// Both keys carry microseconds.
		if v, err := strconv.ParseInt(val, 10, 64); err == nil && v >= 0 {
			s.OutTime = time.Duration(v) * time.Microsecond
		}
	case "speed":
		if val != "N/A" {
			s.Speed = val
		}
	case "total_size":
		if v, err := strconv.ParseInt(val, 10, 64); err == nil {
			s.TotalSize = v
		}
	case "progress":
		s.Done = val == "end"
		return true
	}
	return false
}

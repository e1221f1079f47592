// SPDX-License-Identifier: MIT

package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseLapTime parses a lap or race time string into a duration.
// Accepted forms are "[h:]mm:ss[.fff]" and a plain number of seconds
// ("95.123"). Any parse failure yields zero.
func ParseLapTime(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		secs, err := strconv.ParseFloat(parts[0], 64)
		if err != nil || secs < 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	case 2, 3:
		var hours int64
		idx := 0
		if len(parts) == 3 {
			h, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil || h < 0 {
				return 0
			}
			hours = h
			idx = 1
		}
		mins, err := strconv.ParseInt(parts[idx], 10, 64)
		if err != nil || mins < 0 {
			return 0
		}
		secs, err := strconv.ParseFloat(parts[idx+1], 64)
		if err != nil || secs < 0 {
			return 0
		}
		return time.Duration(hours)*time.Hour +
			time.Duration(mins)*time.Minute +
			time.Duration(secs*float64(time.Second))
	default:
		return 0
	}
}

// LapTimeMs parses a lap-time string into whole milliseconds.
func LapTimeMs(s string) int {
	return int(ParseLapTime(s).Milliseconds())
}

// FormatTimeDelta renders a same-lap gap as "s.fff" below one minute and
// "m:ss.fff" above.
func FormatTimeDelta(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	ms := d.Milliseconds()
	if d < time.Minute {
		return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
	}
	mins := ms / 60000
	rem := ms % 60000
	return fmt.Sprintf("%d:%02d.%03d", mins, rem/1000, rem%1000)
}

// FormatLapDelta renders a whole-lap gap, singular below two laps.
func FormatLapDelta(laps int) string {
	if laps < 0 {
		laps = -laps
	}
	if laps == 1 {
		return "1 lap"
	}
	return fmt.Sprintf("%d laps", laps)
}

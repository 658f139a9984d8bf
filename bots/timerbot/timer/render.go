package timer

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	labelSep   = " — "
	expiredTag = " *EXPIRED*"
)

// Format renders d as [-]MM:SS. Minutes are floored and seconds rounded, so
// values just below a minute boundary render as "60" seconds, e.g. 59.5s is
// "00:60".
func Format(d time.Duration) string {
	ms := d.Milliseconds()
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}

	minutes := ms / 60000
	seconds := int64(math.Round(float64(ms%60000) / 1000))
	return fmt.Sprintf("%s%02d:%02d", sign, minutes, seconds)
}

// Render builds the status text, one line per timer. It returns an empty string
// when there are no timers, which means there is nothing to display.
func Render(timers []Timer, now time.Time) string {
	if len(timers) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, t := range timers {
		if i > 0 {
			sb.WriteString("\n")
		}

		sb.WriteString(Format(t.Remaining(now)))
		if t.Label != "" {
			sb.WriteString(labelSep)
			sb.WriteString(t.Label)
		}
		if t.Expired {
			sb.WriteString(expiredTag)
		}
	}
	return sb.String()
}

package interval

import (
	"fmt"
	"strings"
	"time"
)

// Humanize renders d as "1h 5m", "12m 30s" or "45s". Sub-second parts are dropped.
func Humanize(d time.Duration) string {
	if d < 0 {
		return "-" + Humanize(-d)
	}
	d = d.Round(time.Second)
	if d < time.Second {
		return "0s"
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	parts := make([]string, 0, 3)
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 && h == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}

package report

import (
	"fmt"
	"math"
	"strings"
)

// HourLabel renders an hour of day on a 12-hour clock: 0 is "12 AM",
// 13 is "1 PM".
func HourLabel(h int) string {
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	n := h % 12
	if n == 0 {
		n = 12
	}
	return fmt.Sprintf("%d %s", n, suffix)
}

func compactLabel(h int) string {
	return strings.ReplaceAll(HourLabel(h), " ", "")
}

// FormatDuration renders seconds as "1d 2h 3m 4s", dropping leading zero
// units. Negative values clamp to 0s; non-finite values render empty.
func FormatDuration(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return ""
	}
	s := int64(math.Round(math.Max(0, seconds)))

	d := s / 86400
	s %= 86400
	h := s / 3600
	s %= 3600
	m := s / 60
	s %= 60

	switch {
	case d > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", d, h, m, s)
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

package tui

import (
	"fmt"
	"time"
)

// RelativeTime labels t relative to now the way the project list shows it.
// Anything in the future reads as "Just now".
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 48*time.Hour:
		return "Yesterday"
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}

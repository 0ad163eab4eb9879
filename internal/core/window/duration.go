package window

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration parses a window duration. It accepts Go duration syntax
// (e.g., "10s", "1m", "1h30m"), a "Xd" day suffix, and a leading sign;
// negative durations move a time window off the current row.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("window duration must not be empty")
	}

	sign := time.Duration(1)
	body := s
	if body[0] == '-' || body[0] == '+' {
		if body[0] == '-' {
			sign = -1
		}
		body = body[1:]
	}

	// time.ParseDuration has no day unit.
	if len(body) > 1 && body[len(body)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(body, "%dd", &days); err != nil {
			return 0, fmt.Errorf("invalid window duration %q: %w", s, err)
		}
		if days < 0 {
			return 0, fmt.Errorf("invalid window duration %q", s)
		}
		return sign * time.Duration(days) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(body)
	if err != nil {
		return 0, fmt.Errorf("invalid window duration %q: %w", s, err)
	}
	return sign * d, nil
}

// FormatDuration is the inverse of ParseDuration for whole units.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + FormatDuration(-d)
	}
	if d == 0 {
		return "0s"
	}
	if d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", d/time.Second)
	}
	return d.String()
}

package contract

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseFrequency converts a market frequency string such as "15min", "30min"
// or "1h" into a duration. Plain Go duration strings are accepted too.
func ParseFrequency(s string) (time.Duration, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return 0, fmt.Errorf("empty frequency")
	}
	for _, suf := range []struct {
		name string
		unit time.Duration
	}{
		{"min", time.Minute},
		{"h", time.Hour},
		{"s", time.Second},
	} {
		if !strings.HasSuffix(raw, suf.name) {
			continue
		}
		digits := strings.TrimSuffix(raw, suf.name)
		if digits == "" {
			digits = "1"
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			// "1h30m" style strings fall through to ParseDuration.
			break
		}
		if n <= 0 {
			return 0, fmt.Errorf("frequency %q must be positive", s)
		}
		return time.Duration(n) * suf.unit, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("frequency %q must be positive", s)
	}
	return d, nil
}

package config

import (
	"fmt"
	"strings"
	"time"
)

// parseDuration validates one duration-typed field. Empty means "unset" and
// parses to zero; negative values are rejected, with the field path in the
// error so a bad reload points at the offending key.
func parseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

// Duration resolves a duration field against its default. Normalize has
// already validated every duration string, so anything unparsable or unset
// here collapses to def.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := parseDuration("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

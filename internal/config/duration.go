package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a config duration. It accepts a Go duration string ("3s",
// "1m30s") or a bare number of milliseconds, so rate_limit_delay: 3000 and
// rate_limit_delay: 3s mean the same thing.
type Duration string

func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = Duration(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*d = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or a number of milliseconds: %w", err)
	}
	*d = Duration(n.String())
	return nil
}

// ParseDurationField parses raw, naming path in errors. Empty is zero.
func ParseDurationField(path string, raw Duration) (time.Duration, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		d = time.Duration(ms * float64(time.Millisecond))
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
		}
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path string, raw Duration, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

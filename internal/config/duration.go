package config

import (
	"strings"
	"time"
)

// Duration is a config value written as a Go duration string such as
// "500ms" or "1m". Empty means "use the default".
type Duration string

// Value parses d. Empty yields 0. Negative values are an error.
func (d Duration) Value() (time.Duration, error) {
	s := strings.TrimSpace(string(d))
	if s == "" {
		return 0, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errNegativeDuration
	}
	return v, nil
}

// Or returns the parsed value, or def when d is empty, zero or invalid.
// Validate rejects invalid values at load time.
func (d Duration) Or(def time.Duration) time.Duration {
	v, err := d.Value()
	if err != nil || v == 0 {
		return def
	}
	return v
}

type durationError string

func (e durationError) Error() string { return string(e) }

const errNegativeDuration = durationError("negative duration")

package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that is written as a Go duration string
// ("12s", "150ms") in configuration files.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"12s\": %w", err)
	}

	val, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: can't parse duration %q: %w", s, err)
	}

	d.Duration = val
	return nil
}

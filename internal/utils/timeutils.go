package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// ParseTimestamp decodes a producer timestamp, which may arrive as epoch
// seconds (integer or fractional) or as an ISO-8601 string with or without
// a zone offset. Zoneless strings are taken as UTC, matching what the ns-3
// feed emits.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}

	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}

	if text[0] != '"' {
		secs, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse epoch timestamp: %w", err)
		}
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
			return time.Time{}, fmt.Errorf("epoch timestamp out of range")
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC(), nil
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

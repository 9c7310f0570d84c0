package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Time accepts the timestamp shapes the platform emits: RFC 3339 with or
// without a zone, space separated datetimes, and unix seconds or
// milliseconds. Zoneless values are read as UTC.
type Time struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

func NewTime(t time.Time) Time {
	return Time{Time: t}
}

func ParseTime(value string) (Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Time{Time: t}, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Time{Time: t}, nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return unixTime(n), nil
	}
	return Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func unixTime(ts int64) Time {
	// Handle milliseconds.
	if ts > 1_000_000_000_000 {
		return Time{Time: time.UnixMilli(ts).UTC()}
	}
	return Time{Time: time.Unix(ts, 0).UTC()}
}

func (t *Time) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Time{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseTime(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*t = unixTime(i)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*t = unixTime(int64(f))
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

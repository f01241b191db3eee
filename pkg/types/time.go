package types

import (
	"encoding/json"
	"time"
)

// jsonTime marshals to RFC3339 with nanosecond resolution, satisfying the
// data model's "at least millisecond resolution" requirement regardless of
// the host's default time.Time JSON encoding (which is nanosecond-precision
// but not guaranteed stable across platforms for zero values).
type jsonTime time.Time

func (t jsonTime) Time() time.Time { return time.Time(t) }

func (t jsonTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

func (t *jsonTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = jsonTime(time.Time{})
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*t = jsonTime(parsed)
	return nil
}

package metric

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Common metric kinds reported by the backend.
const (
	KindHeartRate     = "heart_rate"
	KindGlucose       = "glucose"
	KindBloodPressure = "blood_pressure"
	KindMedication    = "medication"
)

// ID is the opaque identity of a reading. The backend emits integer primary
// keys, other producers may emit strings; both decode to the same ID.
type ID string

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode reading id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode reading id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	// 7.0 and 7 name the same row.
	if f, err := n.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		*id = ID(strconv.FormatInt(int64(f), 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Reading is a single vital-sign observation.
type Reading struct {
	ID         ID        `json:"id"`
	Kind       string    `json:"metric_type"`
	Value      float64   `json:"value"`
	Unit       *string   `json:"unit,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// zonelessLayout is how the backend writes naive UTC datetimes.
const zonelessLayout = "2006-01-02T15:04:05.999999999"

// ParseTime accepts RFC 3339 timestamps and the backend's zone-less form,
// which is read as UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(zonelessLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode recorded_at %q: %w", s, err)
	}
	return t, nil
}

// UnmarshalJSON decodes a reading, tolerating zone-less recorded_at values.
func (r *Reading) UnmarshalJSON(data []byte) error {
	type plain Reading
	var aux struct {
		plain
		RecordedAt *string `json:"recorded_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Reading(aux.plain)
	if aux.RecordedAt != nil && *aux.RecordedAt != "" {
		t, err := ParseTime(*aux.RecordedAt)
		if err != nil {
			return err
		}
		r.RecordedAt = t
	}
	return nil
}

// Valid reports whether the reading carries an identity and a kind. Readings
// without either cannot be upserted.
func (r Reading) Valid() bool {
	return r.ID != "" && r.Kind != ""
}

// UnitOrEmpty returns the unit, or "" when none was reported.
func (r Reading) UnitOrEmpty() string {
	if r.Unit == nil {
		return ""
	}
	return *r.Unit
}

// NewReading is the payload for creating a reading on the backend. The
// backend assigns the identity and defaults RecordedAt to now.
type NewReading struct {
	Kind       string     `json:"metric_type"`
	Value      float64    `json:"value"`
	Unit       *string    `json:"unit,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

// StringPtr is a small helper for optional string fields.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

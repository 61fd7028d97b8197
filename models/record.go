package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// Record is one row of a Living Apps collection with its identifier attached.
type Record[F any] struct {
	ID        ID        `json:"record_id"`
	CreatedAt Timestamp `json:"createdat"`
	UpdatedAt Timestamp `json:"updatedat"`
	Fields    F         `json:"fields"`
}

// Created reports when the record was created, falling back to the timestamp
// embedded in the identifier when the platform omitted createdat.
func (r Record[F]) Created() time.Time {
	if !r.CreatedAt.IsZero() {
		return r.CreatedAt.Time
	}
	return r.ID.CreationTime()
}

// Timestamp decodes the platform's timestamps, which may come without a zone
// offset. Null and empty values decode to the zero time.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	DateLayout,
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	// Unknown formats are not fatal for a display-only field.
	t.Time = time.Time{}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

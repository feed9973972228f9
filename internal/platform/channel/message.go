package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/thrive/vitalsync/internal/domain/metric"
)

// Kind distinguishes the two message shapes the stream delivers.
type Kind int

const (
	// KindSnapshot replaces the whole view and cache.
	KindSnapshot Kind = iota + 1
	// KindIncremental upserts a single reading.
	KindIncremental
)

func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindIncremental:
		return "incremental"
	default:
		return "unknown"
	}
}

// Message is one decoded frame. Readings is set for snapshots, Reading for
// incremental updates.
type Message struct {
	Kind     Kind
	Readings []metric.Reading
	Reading  metric.Reading
}

// ErrKeepalive is returned by Decode for pong frames. They carry no data.
var ErrKeepalive = errors.New("channel: keepalive frame")

// ParseError describes a frame that is neither a snapshot nor a reading.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel: %s: %v", e.Reason, e.Err)
	}
	return "channel: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Decode classifies an inbound frame. A frame with "type":"snapshot" and a
// "data" array is a snapshot; any other object carrying "metric_type" is an
// incremental reading and must also carry an "id".
func Decode(frame []byte) (Message, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || frame[0] != '{' {
		return Message{}, &ParseError{Reason: "frame is not a json object"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return Message{}, &ParseError{Reason: "invalid json", Err: err}
	}

	var typ string
	if raw, ok := fields["type"]; ok {
		_ = json.Unmarshal(raw, &typ)
	}

	switch typ {
	case "snapshot":
		raw, ok := fields["data"]
		if !ok {
			return Message{}, &ParseError{Reason: "snapshot without data"}
		}
		var readings []metric.Reading
		if err := json.Unmarshal(raw, &readings); err != nil {
			return Message{}, &ParseError{Reason: "snapshot data is not a reading list", Err: err}
		}
		return Message{Kind: KindSnapshot, Readings: readings}, nil
	case "pong":
		return Message{}, ErrKeepalive
	}

	if _, ok := fields["metric_type"]; !ok {
		return Message{}, &ParseError{Reason: "frame matches no known shape"}
	}
	var r metric.Reading
	if err := json.Unmarshal(frame, &r); err != nil {
		return Message{}, &ParseError{Reason: "invalid reading", Err: err}
	}
	if !r.Valid() {
		return Message{}, &ParseError{Reason: "reading without id or metric_type"}
	}
	return Message{Kind: KindIncremental, Reading: r}, nil
}

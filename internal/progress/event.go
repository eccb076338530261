package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event is a progress report for an in-flight upload. It is transient and
// never persisted.
type Event struct {
	RequestID string  `json:"requestId"`
	Progress  float64 `json:"progress"`
}

// DecodeEvent parses a client message. Malformed JSON and fields of the
// wrong type are errors.
func DecodeEvent(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("decode progress event: %w", err)
	}
	return evt, nil
}

// Broadcastable reports whether the event should be relayed: a non-empty
// request id and a non-zero progress value.
func (e Event) Broadcastable() bool {
	return e.RequestID != "" && e.Progress != 0
}

// Encode renders the wire form sent to every connection.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode progress event: %w", err)
	}
	return data, nil
}

// Delivery records the outcome of one broadcast.
type Delivery struct {
	// Event is the relayed progress report.
	Event Event
	// TS is the UTC time the broadcast was fanned out.
	TS time.Time
	// Recipients counts connections whose outbound queue accepted the message.
	Recipients int
	// Dropped counts connections removed because their queue was full.
	Dropped int
}

// Validate performs coarse validation on Delivery payloads.
func (d Delivery) Validate() error {
	if d.Event.RequestID == "" {
		return errors.New("request id is required")
	}
	if d.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if d.Recipients < 0 || d.Dropped < 0 {
		return errors.New("delivery counts must be >= 0")
	}
	return nil
}

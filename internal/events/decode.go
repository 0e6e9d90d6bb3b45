package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNoEventID marks an envelope without a usable positive integer id. Such an
// event cannot be acknowledged on its own.
var ErrNoEventID = errors.New("event has no usable id")

// wireEvent is the feed's JSON shape. Older indexer versions put the payload
// under eventData instead of data.
type wireEvent struct {
	ID        int64           `json:"id"`
	Type      Type            `json:"type"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// envelope defers every field so one bad field fails only its own event.
type envelope struct {
	ID        json.RawMessage `json:"id"`
	Type      json.RawMessage `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
	CreatedAt json.RawMessage `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
	EventData json.RawMessage `json:"eventData"`
}

// UnmarshalJSON decodes the envelope and then the payload variant selected by
// type. Only input that is not an object, or has no usable id, fails the decode.
// A bad type, timestamp or payload is recorded on Err so the event can still be
// acknowledged.
func (e *Event) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("decode event envelope: %w", err)
	}
	id, err := parseID(env.ID)
	if err != nil {
		return err
	}

	raw := env.Data
	if isNull(raw) {
		raw = env.EventData
	}
	*e = Event{ID: id, Raw: raw}

	var problems []error
	if !isNull(env.Type) {
		if err := json.Unmarshal(env.Type, &e.Type); err != nil {
			problems = append(problems, fmt.Errorf("type: %w", err))
		}
	}

	tsField, tsRaw := "timestamp", env.Timestamp
	if isNull(tsRaw) {
		tsField, tsRaw = "createdAt", env.CreatedAt
	}
	if !isNull(tsRaw) {
		if err := json.Unmarshal(tsRaw, &e.Timestamp); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", tsField, err))
		}
	}

	payload, err := DecodePayload(e.Type, raw)
	e.Data = payload
	if err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		e.Err = fmt.Errorf("event %d (%s): %w", id, e.Type, errors.Join(problems...))
	}
	return nil
}

func parseID(raw json.RawMessage) (int64, error) {
	s := strings.Trim(string(bytes.TrimSpace(raw)), `"`)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoEventID, string(raw))
	}
	return id, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// MarshalJSON writes the event in the feed's shape with the raw payload.
func (e Event) MarshalJSON() ([]byte, error) {
	raw := e.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	w := wireEvent{ID: e.ID, Type: e.Type, Data: raw}
	if !e.Timestamp.IsZero() {
		ts := e.Timestamp
		w.Timestamp = &ts
	}
	return json.Marshal(w)
}

// DecodePayload builds the variant for t from raw JSON. Unknown types decode to
// Unknown and never fail.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if isNull(raw) {
		raw = json.RawMessage("{}")
	}

	var p Payload
	var err error
	switch t {
	case NameTokenizedType:
		p, err = decodeAs[NameTokenized](raw)
	case NameClaimedType:
		p, err = decodeAs[NameClaimed](raw)
	case NameTransferredType:
		p, err = decodeAs[NameTransferred](raw)
	case NameListedType:
		p, err = decodeAs[NameListed](raw)
	case NameOfferMadeType:
		p, err = decodeAs[NameOfferMade](raw)
	case NamePurchasedType:
		p, err = decodeAs[NamePurchased](raw)
	case NameCancelledType:
		p, err = decodeAs[NameCancelled](raw)
	case NameExpiredType:
		p, err = decodeAs[NameExpired](raw)
	default:
		var ref Ref
		// Best effort: unknown payloads may still name a domain.
		_ = json.Unmarshal(raw, &ref)
		return Unknown{Ref: ref, EventType: t}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return p, err
	}
	return p, nil
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

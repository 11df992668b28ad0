package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope types assigned by the broker itself. Anything else is
// application-defined and passes through untouched.
const (
	TypeMessage         = "message"
	TypeMessageEdit     = "message:edit"
	TypeMessageDelete   = "message:delete"
	TypePresence        = "presence"
	TypeUserStateChange = "user_state_change"
)

// Presence actions carried by TypePresence envelopes.
const (
	ActionJoined = "joined"
	ActionParted = "parted"
)

// SystemUser is the sender recorded on broker-generated envelopes.
const SystemUser = "system"

// WireTimeFormat is the timestamp layout used on the wire: UTC,
// microsecond precision, no zone designator.
const WireTimeFormat = "2006-01-02T15:04:05.000000"

// Envelope is a single routed message record.
//
// Only the routing and bookkeeping fields are typed; the payload in
// Message is opaque JSON and any unknown top-level keys survive a
// decode/encode round trip via Extra.
type Envelope struct {
	UUID      uuid.UUID
	Timestamp time.Time
	Type      string
	User      string
	Channel   string
	PMUsers   []string
	Message   json.RawMessage
	NoHistory bool
	Edited    *time.Time

	// Presence bookkeeping, set on TypePresence envelopes only.
	Action string
	Users  []string

	// Extra holds client-supplied keys the broker does not interpret.
	Extra map[string]json.RawMessage
}

// Routable reports whether the envelope addresses at least one channel
// or private recipient. Envelopes failing this are rejected up front.
func (e *Envelope) Routable() bool {
	return e.Channel != "" || len(e.PMUsers) > 0
}

// EnsureIdentity assigns the server-side uuid and timestamp when the
// publisher did not supply them, and defaults the type to "message".
func (e *Envelope) EnsureIdentity(now time.Time) {
	if e.UUID == uuid.Nil {
		e.UUID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	if e.Type == "" {
		e.Type = TypeMessage
	}
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.Extra)+8)
	for k, v := range e.Extra {
		out[k] = v
	}

	put := func(k string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[k] = raw
		return nil
	}

	if err := put("uuid", e.UUID.String()); err != nil {
		return nil, err
	}
	if err := put("timestamp", e.Timestamp.UTC().Format(WireTimeFormat)); err != nil {
		return nil, err
	}
	if err := put("type", e.Type); err != nil {
		return nil, err
	}
	if err := put("user", e.User); err != nil {
		return nil, err
	}
	if e.Channel != "" {
		if err := put("channel", e.Channel); err != nil {
			return nil, err
		}
	}
	if len(e.PMUsers) > 0 {
		if err := put("pm_users", e.PMUsers); err != nil {
			return nil, err
		}
	}
	if e.Message != nil {
		out["message"] = e.Message
	}
	if e.NoHistory {
		if err := put("no_history", true); err != nil {
			return nil, err
		}
	}
	if e.Edited != nil {
		if err := put("edited", e.Edited.UTC().Format(WireTimeFormat)); err != nil {
			return nil, err
		}
	}
	if e.Action != "" {
		if err := put("action", e.Action); err != nil {
			return nil, err
		}
	}
	if e.Users != nil {
		if err := put("users", e.Users); err != nil {
			return nil, err
		}
	}

	return json.Marshal(out)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = Envelope{}

	if v, ok := raw["uuid"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		if s != "" {
			id, err := uuid.Parse(s)
			if err != nil {
				return err
			}
			e.UUID = id
		}
		delete(raw, "uuid")
	}
	if v, ok := raw["timestamp"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		if s != "" {
			ts, err := ParseWireTime(s)
			if err != nil {
				return err
			}
			e.Timestamp = ts
		}
		delete(raw, "timestamp")
	}
	if err := popString(raw, "type", &e.Type); err != nil {
		return err
	}
	if err := popString(raw, "user", &e.User); err != nil {
		return err
	}
	if err := popString(raw, "channel", &e.Channel); err != nil {
		return err
	}
	if v, ok := raw["pm_users"]; ok {
		if err := json.Unmarshal(v, &e.PMUsers); err != nil {
			return err
		}
		delete(raw, "pm_users")
	}
	if v, ok := raw["message"]; ok {
		e.Message = v
		delete(raw, "message")
	}
	if v, ok := raw["no_history"]; ok {
		if err := json.Unmarshal(v, &e.NoHistory); err != nil {
			return err
		}
		delete(raw, "no_history")
	}
	if v, ok := raw["edited"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		if s != "" {
			ts, err := ParseWireTime(s)
			if err != nil {
				return err
			}
			e.Edited = &ts
		}
		delete(raw, "edited")
	}
	if err := popString(raw, "action", &e.Action); err != nil {
		return err
	}
	if v, ok := raw["users"]; ok {
		if err := json.Unmarshal(v, &e.Users); err != nil {
			return err
		}
		delete(raw, "users")
	}

	if len(raw) > 0 {
		e.Extra = raw
	}
	return nil
}

func popString(raw map[string]json.RawMessage, key string, dst *string) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return err
	}
	delete(raw, key)
	return nil
}

// ParseWireTime accepts both the broker's wire layout and RFC 3339.
func ParseWireTime(s string) (time.Time, error) {
	if ts, err := time.Parse(WireTimeFormat, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// MessageEdit is the payload of a history patch request.
type MessageEdit struct {
	UUID    uuid.UUID       `json:"uuid"`
	Channel string          `json:"channel"`
	User    string          `json:"user,omitempty"`
	Message json.RawMessage `json:"message"`
}

// MessageDelete is the payload of a history delete request.
type MessageDelete struct {
	UUID    uuid.UUID `json:"uuid"`
	Channel string    `json:"channel"`
}

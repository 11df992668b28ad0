package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeUnmarshalKeepsUnknownKeys(t *testing.T) {
	raw := []byte(`{
		"uuid": "2b1c6c70-9a3e-4a4e-8a47-3f6f9e1f0001",
		"timestamp": "2026-03-01T12:30:45.123456",
		"type": "message",
		"user": "alice",
		"channel": "pub_chan",
		"message": {"text": "hi"},
		"custom_key": 123
	}`)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))

	assert.Equal(t, "2b1c6c70-9a3e-4a4e-8a47-3f6f9e1f0001", env.UUID.String())
	assert.Equal(t, "alice", env.User)
	assert.Equal(t, "pub_chan", env.Channel)
	assert.Equal(t, 2026, env.Timestamp.Year())
	assert.JSONEq(t, `{"text": "hi"}`, string(env.Message))
	require.Contains(t, env.Extra, "custom_key")
	assert.JSONEq(t, `123`, string(env.Extra["custom_key"]))
}

func TestEnvelopeMarshalWireShape(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 45, 123456000, time.UTC)
	env := Envelope{
		UUID:      uuid.MustParse("2b1c6c70-9a3e-4a4e-8a47-3f6f9e1f0001"),
		Timestamp: ts,
		Type:      TypeMessage,
		User:      "alice",
		Channel:   "pub_chan",
		Message:   json.RawMessage(`{"text":"hi"}`),
		Extra:     map[string]json.RawMessage{"custom_key": json.RawMessage(`123`)},
	}

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))

	assert.Equal(t, "2b1c6c70-9a3e-4a4e-8a47-3f6f9e1f0001", out["uuid"])
	assert.Equal(t, "2026-03-01T12:30:45.123456", out["timestamp"])
	assert.Equal(t, "message", out["type"])
	assert.Equal(t, float64(123), out["custom_key"])
	assert.NotContains(t, out, "no_history")
	assert.NotContains(t, out, "pm_users")
}

func TestEnsureIdentity(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	env := &Envelope{Channel: "c"}
	env.EnsureIdentity(now)
	assert.NotEqual(t, uuid.Nil, env.UUID)
	assert.Equal(t, now, env.Timestamp)
	assert.Equal(t, TypeMessage, env.Type)

	supplied := uuid.New()
	ts := now.Add(-time.Hour)
	env = &Envelope{UUID: supplied, Timestamp: ts, Type: TypePresence}
	env.EnsureIdentity(now)
	assert.Equal(t, supplied, env.UUID)
	assert.Equal(t, ts, env.Timestamp)
	assert.Equal(t, TypePresence, env.Type)
}

func TestRoutable(t *testing.T) {
	assert.False(t, (&Envelope{}).Routable())
	assert.True(t, (&Envelope{Channel: "c"}).Routable())
	assert.True(t, (&Envelope{PMUsers: []string{"bob"}}).Routable())
}

func TestParseWireTime(t *testing.T) {
	got, err := ParseWireTime("2026-03-01T12:30:45.123456")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 30, 45, 123456000, time.UTC), got)

	got, err = ParseWireTime("2026-03-01T12:30:45.123456789Z")
	require.NoError(t, err)
	assert.Equal(t, 123456789, got.Nanosecond())

	_, err = ParseWireTime("not a time")
	assert.Error(t, err)
}

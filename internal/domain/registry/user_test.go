package registry

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestChangeStateReportsOnlyActualChanges(t *testing.T) {
	u := newUser("alice")

	changed := u.ChangeState(map[string]json.RawMessage{
		"color": raw(`"red"`),
		"mood":  raw(`"happy"`),
	})
	require.Len(t, changed, 2)

	// Same value again is not a change.
	changed = u.ChangeState(map[string]json.RawMessage{"color": raw(`"red"`)})
	assert.Empty(t, changed)

	changed = u.ChangeState(map[string]json.RawMessage{"color": raw(`"blue"`)})
	require.Len(t, changed, 1)
	assert.Equal(t, "color", changed[0].Key)
	assert.JSONEq(t, `"blue"`, string(changed[0].Value))
}

func TestChangeStateNullDeletesKey(t *testing.T) {
	u := newUser("alice")
	u.ChangeState(map[string]json.RawMessage{"color": raw(`"red"`)})

	changed := u.ChangeState(map[string]json.RawMessage{"color": raw(`null`)})
	require.Len(t, changed, 1)
	assert.NotContains(t, u.State, "color")

	// Deleting an absent key is not a change.
	changed = u.ChangeState(map[string]json.RawMessage{"color": raw(`null`)})
	assert.Empty(t, changed)
}

func TestPublicStateProjection(t *testing.T) {
	u := newUser("alice")
	u.ChangeState(map[string]json.RawMessage{
		"color":  raw(`"red"`),
		"secret": raw(`"hunter2"`),
	})

	assert.Empty(t, u.PublicState())

	u.StatePublicKeys = []string{"color", "missing"}
	pub := u.PublicState()
	require.Len(t, pub, 1)
	assert.JSONEq(t, `"red"`, string(pub["color"]))

	// Projection follows every mutation.
	u.ChangeState(map[string]json.RawMessage{"color": raw(`"green"`)})
	assert.JSONEq(t, `"green"`, string(u.PublicState()["color"]))
}

func TestUserConnectionSet(t *testing.T) {
	u := newUser("alice")
	assert.False(t, u.Connected())

	conn := newConnection(uuid.New(), "alice", 8)
	u.addConnection(conn)
	assert.True(t, u.Connected())

	u.removeConnection(conn)
	assert.False(t, u.Connected())
}

func TestUserInfoIncludesConnections(t *testing.T) {
	u := newUser("alice")
	conn := newConnection(uuid.New(), "alice", 8)
	u.addConnection(conn)

	info := u.Info(true)
	require.Len(t, info.Connections, 1)
	assert.Equal(t, conn.ID.String(), info.Connections[0])

	info = u.Info(false)
	assert.Empty(t, info.Connections)
}

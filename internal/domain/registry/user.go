package registry

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/google/uuid"

	"github.com/channelstream/channelstream/internal/domain/model"
)

// User is a logical identity with arbitrary JSON state and a set of
// live connections. Users are remembered after their last connection
// goes away; only an explicit operation removes them.
//
// All fields are guarded by the registry lock.
type User struct {
	Username        string
	State           map[string]json.RawMessage
	StatePublicKeys []string

	connections map[uuid.UUID]*Connection
}

func newUser(username string) *User {
	return &User{
		Username:    username,
		State:       make(map[string]json.RawMessage),
		connections: make(map[uuid.UUID]*Connection),
	}
}

// ChangeState merges a JSON patch into the user state key by key. A
// JSON null removes the key. Returns the changes that actually took
// effect, which callers use to decide whether to broadcast.
func (u *User) ChangeState(patch map[string]json.RawMessage) []model.StateChange {
	var changed []model.StateChange

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := patch[k]
		if isJSONNull(v) {
			if _, ok := u.State[k]; ok {
				delete(u.State, k)
				changed = append(changed, model.StateChange{Key: k, Value: json.RawMessage("null")})
			}
			continue
		}
		if old, ok := u.State[k]; ok && bytes.Equal(old, v) {
			continue
		}
		u.State[k] = v
		changed = append(changed, model.StateChange{Key: k, Value: v})
	}
	return changed
}

// PublicState projects the state onto the declared public keys.
func (u *User) PublicState() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(u.StatePublicKeys))
	for _, k := range u.StatePublicKeys {
		if v, ok := u.State[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (u *User) addConnection(conn *Connection) {
	u.connections[conn.ID] = conn
}

func (u *User) removeConnection(conn *Connection) {
	delete(u.connections, conn.ID)
}

// Connected reports whether the user has at least one live connection.
func (u *User) Connected() bool {
	return len(u.connections) > 0
}

// Info builds the admin view of the user.
func (u *User) Info(includeConnections bool) model.UserInfo {
	info := model.UserInfo{
		User:        u.Username,
		State:       cloneState(u.State),
		PublicState: u.PublicState(),
	}
	if includeConnections {
		ids := make([]string, 0, len(u.connections))
		for id := range u.connections {
			ids = append(ids, id.String())
		}
		sort.Strings(ids)
		info.Connections = ids
	}
	return info
}

func cloneState(state map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

func isJSONNull(v json.RawMessage) bool {
	return len(v) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

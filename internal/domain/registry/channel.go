package registry

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/channelstream/channelstream/internal/domain/model"
)

// Channel is a named fan-out group tracking its subscribed connections,
// per-user presence counts and a bounded history window.
//
// All fields are guarded by the registry lock.
type Channel struct {
	Name      string
	Config    model.ChannelConfig
	CreatedAt time.Time

	connections map[uuid.UUID]*Connection
	presence    map[string]int // username -> subscribed connection count
	history     []*model.Envelope
	lastActive  time.Time
}

func newChannel(name string, cfg model.ChannelConfig) *Channel {
	now := time.Now()
	return &Channel{
		Name:        name,
		Config:      cfg,
		CreatedAt:   now,
		lastActive:  now,
		connections: make(map[uuid.UUID]*Connection),
		presence:    make(map[string]int),
	}
}

// addConnection subscribes conn. Reports whether this made the owning
// user newly present on the channel.
func (ch *Channel) addConnection(conn *Connection) (joined bool) {
	if _, ok := ch.connections[conn.ID]; ok {
		return false
	}
	ch.connections[conn.ID] = conn
	ch.presence[conn.Username]++
	ch.lastActive = time.Now()
	return ch.presence[conn.Username] == 1
}

// removeConnection unsubscribes conn. Reports whether the owning user
// left the channel entirely and whether the channel is now empty.
func (ch *Channel) removeConnection(conn *Connection) (parted, empty bool) {
	if _, ok := ch.connections[conn.ID]; !ok {
		return false, len(ch.connections) == 0
	}
	delete(ch.connections, conn.ID)
	ch.presence[conn.Username]--
	if ch.presence[conn.Username] <= 0 {
		delete(ch.presence, conn.Username)
		parted = true
	}
	ch.lastActive = time.Now()
	return parted, len(ch.connections) == 0
}

// appendHistory stores env, evicting from the front past HistorySize.
// Transient envelopes and channels without history are a no-op.
func (ch *Channel) appendHistory(env *model.Envelope) {
	if !ch.Config.StoreHistory || env.NoHistory {
		return
	}
	ch.history = append(ch.history, env)
	if over := len(ch.history) - ch.Config.HistorySize; over > 0 {
		ch.history = ch.history[over:]
	}
}

// editHistory replaces the message payload of the matching envelope in
// place and stamps it as edited. Misses do nothing.
func (ch *Channel) editHistory(id uuid.UUID, message json.RawMessage, editedAt time.Time) bool {
	for _, env := range ch.history {
		if env.UUID == id {
			env.Message = message
			ts := editedAt.UTC()
			env.Edited = &ts
			return true
		}
	}
	return false
}

// deleteHistory removes the matching envelope.
func (ch *Channel) deleteHistory(id uuid.UUID) bool {
	for i, env := range ch.history {
		if env.UUID == id {
			ch.history = append(ch.history[:i], ch.history[i+1:]...)
			return true
		}
	}
	return false
}

// userList returns the users currently present, sorted.
func (ch *Channel) userList() []string {
	users := make([]string, 0, len(ch.presence))
	for name := range ch.presence {
		users = append(users, name)
	}
	sort.Strings(users)
	return users
}

// presenceEnvelope builds the join/part notification for username, or
// nil when the channel does not announce presence.
func (ch *Channel) presenceEnvelope(username, action string) *model.Envelope {
	if !ch.Config.NotifyPresence {
		return nil
	}
	env := &model.Envelope{
		UUID:      uuid.New(),
		Timestamp: time.Now().UTC(),
		Type:      model.TypePresence,
		User:      username,
		Channel:   ch.Name,
		Action:    action,
		Message:   mustJSON(map[string]string{"action": action, "user": username}),
	}
	if ch.Config.BroadcastPresenceWithUserLists {
		env.Users = ch.userList()
	}
	return env
}

// info builds the external channel view.
func (ch *Channel) info(includeHistory, includeUsers bool) model.ChannelInfo {
	out := model.ChannelInfo{
		Name:             ch.Name,
		TotalConnections: len(ch.connections),
		TotalUsers:       len(ch.presence),
		Users:            []string{},
		History:          []model.Envelope{},
		LastActive:       ch.lastActive.UTC().Format(model.WireTimeFormat),
		Settings:         ch.Config,
	}
	if includeUsers {
		out.Users = ch.userList()
	}
	if includeHistory {
		out.History = make([]model.Envelope, 0, len(ch.history))
		for _, env := range ch.history {
			out.History = append(out.History, *env)
		}
	}
	return out
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

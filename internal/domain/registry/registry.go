/*
Package registry holds the broker's in-memory state: the channel, user
and connection tables plus the process-wide delivery counters.

Concurrency model: one coarse mutex serializes every mutation and every
consistent read of the tables. The only concurrent structure is the
per-connection delivery queue, a buffered channel with multi-producer /
single-consumer semantics, so fan-out never blocks on a slow client.
Compound operations (connect, subscribe, sweep, fan-out) are single
locked methods; the envelopes they decide to broadcast are returned to
the caller for asynchronous dispatch rather than delivered recursively.
*/
package registry

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/channelstream/channelstream/internal/domain/model"
)

// ErrUnknownConnection marks operations referencing a connection id the
// registry has never seen or has already reclaimed.
var ErrUnknownConnection = errors.New("unknown connection")

// Registry is the process-wide broker state. Construct with NewRegistry;
// the zero value is not usable.
type Registry struct {
	mu sync.Mutex

	channels    map[string]*Channel
	users       map[string]*User
	connections map[uuid.UUID]*Connection

	stats model.Stats

	config config
}

type config struct {
	queueSize int
}

// Option configures a Registry.
type Option func(*Registry)

// WithQueueSize sets the per-connection delivery queue capacity.
func WithQueueSize(size int) Option {
	return func(r *Registry) {
		if size > 0 {
			r.config.queueSize = size
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		channels:    make(map[string]*Channel),
		users:       make(map[string]*User),
		connections: make(map[uuid.UUID]*Connection),
		stats:       model.Stats{StartedOn: time.Now()},
		config:      config{queueSize: 128},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ConnectRequest carries everything the connect operation needs to
// resolve a user, its state and its initial subscriptions.
type ConnectRequest struct {
	Username       string
	ConnID         uuid.UUID
	Channels       []string
	ChannelConfigs map[string]model.ChannelConfig

	// FreshUserState seeds the state only when the user is created by
	// this call; UpdateUserState merges into whatever exists.
	FreshUserState  map[string]json.RawMessage
	UpdateUserState map[string]json.RawMessage

	// StatePublicKeys replaces the public projection when non-nil. An
	// empty non-nil slice is valid and clears it.
	StatePublicKeys *[]string
}

// ConnectResult is the resolved user view returned to the control plane.
type ConnectResult struct {
	Connection  *Connection
	Username    string
	Channels    []string
	State       map[string]json.RawMessage
	PublicState map[string]json.RawMessage
}

// Connect creates-or-fetches the user and the named channels, registers
// a new connection and subscribes it everywhere. The returned envelopes
// are the presence notifications to broadcast.
func (r *Registry) Connect(req ConnectRequest) (ConnectResult, []*model.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, existed := r.users[req.Username]
	if !existed {
		user = newUser(req.Username)
		r.users[req.Username] = user
		if len(req.FreshUserState) > 0 {
			user.ChangeState(req.FreshUserState)
		}
	}
	if len(req.UpdateUserState) > 0 {
		user.ChangeState(req.UpdateUserState)
	}
	if req.StatePublicKeys != nil {
		user.StatePublicKeys = append([]string(nil), (*req.StatePublicKeys)...)
	}

	connID := req.ConnID
	if connID == uuid.Nil {
		connID = uuid.New()
	}
	conn := newConnection(connID, req.Username, r.config.queueSize)
	r.connections[conn.ID] = conn
	user.addConnection(conn)

	var notify []*model.Envelope
	for _, name := range req.Channels {
		cfg, hasCfg := req.ChannelConfigs[name]
		if !hasCfg {
			cfg = model.DefaultChannelConfig()
		}
		if env := r.subscribeLocked(conn, name, cfg); env != nil {
			notify = append(notify, env)
		}
	}

	current := conn.Channels()
	sort.Strings(current)

	return ConnectResult{
		Connection:  conn,
		Username:    user.Username,
		Channels:    current,
		State:       cloneState(user.State),
		PublicState: user.PublicState(),
	}, notify
}

// subscribeLocked adds conn to the named channel, creating the channel
// with cfg when missing. Returns the join presence envelope, if any.
func (r *Registry) subscribeLocked(conn *Connection, name string, cfg model.ChannelConfig) *model.Envelope {
	ch, ok := r.channels[name]
	if !ok {
		ch = newChannel(name, cfg)
		r.channels[name] = ch
	}
	conn.channels[name] = struct{}{}
	if joined := ch.addConnection(conn); joined {
		return ch.presenceEnvelope(conn.Username, model.ActionJoined)
	}
	return nil
}

// Subscribe adds the connection to the named channels, creating missing
// ones with the supplied configs. Idempotent: channels the connection
// already holds are skipped. Returns the newly subscribed names, the
// full current subscription list and the presence envelopes to send.
func (r *Registry) Subscribe(connID uuid.UUID, channels []string, cfgs map[string]model.ChannelConfig) (subscribed, current []string, notify []*model.Envelope, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		return nil, nil, nil, ErrUnknownConnection
	}

	for _, name := range channels {
		if _, already := conn.channels[name]; already {
			continue
		}
		cfg, hasCfg := cfgs[name]
		if !hasCfg {
			cfg = model.DefaultChannelConfig()
		}
		if env := r.subscribeLocked(conn, name, cfg); env != nil {
			notify = append(notify, env)
		}
		subscribed = append(subscribed, name)
	}
	sort.Strings(subscribed)

	current = conn.Channels()
	sort.Strings(current)
	return subscribed, current, notify, nil
}

// Unsubscribe removes the connection from the named channels. Channels
// left empty and not salvageable are dropped. Returns the names
// actually left, the remaining subscriptions and part notifications.
func (r *Registry) Unsubscribe(connID uuid.UUID, channels []string) (unsubscribed, current []string, notify []*model.Envelope, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		return nil, nil, nil, ErrUnknownConnection
	}

	for _, name := range channels {
		if _, subscribed := conn.channels[name]; !subscribed {
			continue
		}
		delete(conn.channels, name)
		unsubscribed = append(unsubscribed, name)
		if env := r.leaveChannelLocked(conn, name); env != nil {
			notify = append(notify, env)
		}
	}
	sort.Strings(unsubscribed)

	current = conn.Channels()
	sort.Strings(current)
	return unsubscribed, current, notify, nil
}

// leaveChannelLocked detaches conn from the channel, emits the part
// presence envelope when due and reclaims empty non-salvageable channels.
func (r *Registry) leaveChannelLocked(conn *Connection, name string) *model.Envelope {
	ch, ok := r.channels[name]
	if !ok {
		return nil
	}
	parted, empty := ch.removeConnection(conn)
	var env *model.Envelope
	if parted {
		env = ch.presenceEnvelope(conn.Username, model.ActionParted)
	}
	if empty && !ch.Config.Salvageable {
		delete(r.channels, name)
	}
	return env
}

// Disconnect tears the connection down: detaches it from its user and
// every subscribed channel. The user itself is remembered.
func (r *Registry) Disconnect(connID uuid.UUID) (found bool, notify []*model.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnectLocked(connID)
}

func (r *Registry) disconnectLocked(connID uuid.UUID) (bool, []*model.Envelope) {
	conn, ok := r.connections[connID]
	if !ok {
		return false, nil
	}
	delete(r.connections, connID)

	if user, ok := r.users[conn.Username]; ok {
		user.removeConnection(conn)
	}

	var notify []*model.Envelope
	for name := range conn.channels {
		if env := r.leaveChannelLocked(conn, name); env != nil {
			notify = append(notify, env)
		}
	}
	conn.channels = make(map[string]struct{})
	return true, notify
}

// SweepExpired disconnects every connection idle past maxAge, exactly
// as an explicit disconnect would. Returns the reaped ids and the part
// notifications to broadcast.
func (r *Registry) SweepExpired(maxAge time.Duration) (reaped []uuid.UUID, notify []*model.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.connections {
		if !conn.Expired(maxAge) {
			continue
		}
		if _, envs := r.disconnectLocked(id); envs != nil {
			notify = append(notify, envs...)
		}
		reaped = append(reaped, id)
	}
	return reaped, notify
}

// UserStateResult is the outcome of a state mutation.
type UserStateResult struct {
	State      map[string]json.RawMessage
	Changed    []model.StateChange
	PublicKeys []string
}

// ChangeUserState merges the patch into the user's state, optionally
// replacing the public-key projection first. When any key actually
// changed, a user_state_change envelope is built for every channel the
// user occupies that has notify_state enabled. Unknown users are a
// silent no-op, matching the accept-and-spawn model.
func (r *Registry) ChangeUserState(username string, patch map[string]json.RawMessage, publicKeys *[]string) (UserStateResult, []*model.Envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[username]
	if !ok {
		return UserStateResult{}, nil, false
	}
	if publicKeys != nil {
		user.StatePublicKeys = append([]string(nil), (*publicKeys)...)
	}
	changed := user.ChangeState(patch)

	res := UserStateResult{
		State:      cloneState(user.State),
		Changed:    changed,
		PublicKeys: append([]string(nil), user.StatePublicKeys...),
	}
	if len(changed) == 0 {
		return res, nil, true
	}

	payload := mustJSON(map[string]any{
		"state":   user.PublicState(),
		"changed": changed,
	})

	var notify []*model.Envelope
	for _, name := range r.userChannelsLocked(user) {
		ch := r.channels[name]
		if ch == nil || !ch.Config.NotifyState {
			continue
		}
		notify = append(notify, &model.Envelope{
			UUID:      uuid.New(),
			Timestamp: time.Now().UTC(),
			Type:      model.TypeUserStateChange,
			User:      username,
			Channel:   name,
			Message:   payload,
		})
	}
	return res, notify, true
}

// userChannelsLocked returns the sorted union of channels the user's
// connections are subscribed to.
func (r *Registry) userChannelsLocked(user *User) []string {
	seen := map[string]struct{}{}
	for _, conn := range user.connections {
		for name := range conn.channels {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SetChannelConfig applies configuration to the named channels,
// creating missing ones. Returns the touched channel names.
func (r *Registry) SetChannelConfig(configs map[string]model.ChannelConfig) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(configs))
	for name, cfg := range configs {
		if ch, ok := r.channels[name]; ok {
			ch.Config = cfg
			// Retrofit the history bound immediately.
			if over := len(ch.history) - cfg.HistorySize; over > 0 {
				ch.history = ch.history[over:]
			}
		} else {
			r.channels[name] = newChannel(name, cfg)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PassMessage fans the envelope out to every subscriber of its channel
// and every connection of its private recipients, deduplicated by
// connection, then appends it to channel history. Returns the delivery
// count.
func (r *Registry) PassMessage(env *model.Envelope) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passMessageLocked(env)
}

func (r *Registry) passMessageLocked(env *model.Envelope) int {
	env.EnsureIdentity(time.Now())
	r.stats.TotalUniqueMessages++

	recipients := make(map[uuid.UUID]*Connection)
	if env.Channel != "" {
		if ch, ok := r.channels[env.Channel]; ok {
			for id, conn := range ch.connections {
				recipients[id] = conn
			}
		}
	}
	for _, username := range env.PMUsers {
		if user, ok := r.users[username]; ok {
			for id, conn := range user.connections {
				recipients[id] = conn
			}
		}
	}

	for _, conn := range recipients {
		conn.Enqueue([]model.Envelope{*env})
		r.stats.TotalMessages++
	}

	if env.Channel != "" && !env.NoHistory {
		if ch, ok := r.channels[env.Channel]; ok {
			stored := *env
			ch.appendHistory(&stored)
		}
	}
	return len(recipients)
}

// EditMessage replaces the message payload of the identified history
// entry, then broadcasts a message:edit envelope to the channel. An
// unknown channel is a silent no-op.
func (r *Registry) EditMessage(edit model.MessageEdit) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[edit.Channel]
	if !ok {
		return 0
	}
	now := time.Now()
	ch.editHistory(edit.UUID, edit.Message, now)

	return r.passMessageLocked(&model.Envelope{
		UUID:      edit.UUID,
		Timestamp: now.UTC(),
		Type:      model.TypeMessageEdit,
		User:      edit.User,
		Channel:   edit.Channel,
		Message:   edit.Message,
		NoHistory: true,
	})
}

// DeleteMessage removes the identified history entry, then broadcasts a
// message:delete envelope. An unknown channel is a silent no-op.
func (r *Registry) DeleteMessage(del model.MessageDelete) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[del.Channel]
	if !ok {
		return 0
	}
	ch.deleteHistory(del.UUID)

	return r.passMessageLocked(&model.Envelope{
		UUID:      del.UUID,
		Timestamp: time.Now().UTC(),
		Type:      model.TypeMessageDelete,
		User:      model.SystemUser,
		Channel:   del.Channel,
		NoHistory: true,
	})
}

// LookupConnection returns the connection for id without creating one.
func (r *Registry) LookupConnection(id uuid.UUID) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// Info builds the aggregate channel and user view per the request
// options. Nil cfg.Channels selects everything.
func (r *Registry) Info(cfg model.InfoConfig) model.InfoResponse {
	r.mu.Lock()
	defer r.mu.Unlock()

	excluded := make(map[string]struct{}, len(cfg.ExcludeChannels))
	for _, name := range cfg.ExcludeChannels {
		excluded[name] = struct{}{}
	}

	selected := make([]*Channel, 0, len(r.channels))
	if cfg.Channels == nil {
		for _, ch := range r.channels {
			selected = append(selected, ch)
		}
	} else {
		for _, name := range cfg.Channels {
			if ch, ok := r.channels[name]; ok {
				selected = append(selected, ch)
			}
		}
	}

	out := model.InfoResponse{
		Channels: make(map[string]model.ChannelInfo, len(selected)),
		Users:    []model.UserStateInfo{},
	}

	listUsers := map[string]struct{}{}
	for _, ch := range selected {
		if _, skip := excluded[ch.Name]; skip {
			continue
		}
		info := ch.info(cfg.IncludeHistory, cfg.IncludeUsers)
		out.Channels[ch.Name] = info
		for _, username := range info.Users {
			listUsers[username] = struct{}{}
		}
	}

	usernames := make([]string, 0, len(listUsers))
	for name := range listUsers {
		usernames = append(usernames, name)
	}
	sort.Strings(usernames)
	for _, name := range usernames {
		user, ok := r.users[name]
		if !ok {
			continue
		}
		state := cloneState(user.State)
		if cfg.ReturnPublicState {
			state = user.PublicState()
		}
		entry := model.UserStateInfo{User: name, State: state}
		if cfg.IncludeConnections {
			for id := range user.connections {
				entry.Connections = append(entry.Connections, id.String())
			}
			sort.Strings(entry.Connections)
		}
		out.Users = append(out.Users, entry)
	}
	return out
}

// AdminInfo builds the dashboard view of the whole process.
func (r *Registry) AdminInfo() model.ServerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := model.ServerInfo{
		RememberedUserCount: len(r.users),
		TotalChannels:       len(r.channels),
		TotalMessages:       r.stats.TotalMessages,
		TotalUniqueMessages: r.stats.TotalUniqueMessages,
		Channels:            make(map[string]model.ChannelInfo, len(r.channels)),
		Users:               []model.UserInfo{},
		Uptime:              time.Since(r.stats.StartedOn).Truncate(time.Second).String(),
	}
	for name, ch := range r.channels {
		info.Channels[name] = ch.info(true, true)
	}

	usernames := make([]string, 0, len(r.users))
	for name := range r.users {
		usernames = append(usernames, name)
	}
	sort.Strings(usernames)
	for _, name := range usernames {
		user := r.users[name]
		if !user.Connected() {
			continue
		}
		info.UniqueUserCount++
		info.TotalConnections += len(user.connections)
		info.Users = append(info.Users, user.Info(true))
	}
	return info
}

// Stats returns a snapshot of the delivery counters.
func (r *Registry) Stats() model.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Counts reports table sizes for the metrics gauges.
func (r *Registry) Counts() (connections, channels, users int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections), len(r.channels), len(r.users)
}

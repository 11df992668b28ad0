package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelstream/channelstream/internal/adapter/pubsub"
	"github.com/channelstream/channelstream/internal/domain/model"
	"github.com/channelstream/channelstream/internal/domain/registry"
)

// recordingDispatcher captures dispatched payloads per topic.
type recordingDispatcher struct {
	mu     sync.Mutex
	topics []string
	bodies []json.RawMessage
}

func (d *recordingDispatcher) Dispatch(_ context.Context, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topics = append(d.topics, topic)
	d.bodies = append(d.bodies, raw)
	return nil
}

func (d *recordingDispatcher) dispatched() ([]string, []json.RawMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.topics...), append([]json.RawMessage(nil), d.bodies...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBroker() (*BrokerService, *registry.Registry, *recordingDispatcher) {
	reg := registry.NewRegistry()
	disp := &recordingDispatcher{}
	return NewBrokerService(reg, disp, NewReapedLog(), testLogger()), reg, disp
}

func TestAcceptMessagesAssignsIdentityAndDispatches(t *testing.T) {
	broker, _, disp := newTestBroker()

	accepted := broker.AcceptMessages(context.Background(), []*model.Envelope{
		{User: "alice", Channel: "c", Message: json.RawMessage(`{"text":"hi"}`)},
		{User: "alice", Message: json.RawMessage(`{"text":"unroutable"}`)},
	})

	require.Len(t, accepted, 1, "envelopes without channel or pm_users are rejected")
	assert.NotEqual(t, uuid.Nil, accepted[0].UUID)
	assert.False(t, accepted[0].Timestamp.IsZero())
	assert.Equal(t, model.TypeMessage, accepted[0].Type)

	topics, _ := disp.dispatched()
	assert.Equal(t, []string{pubsub.TopicMessages}, topics)
}

func TestConnectBroadcastsPresence(t *testing.T) {
	broker, _, disp := newTestBroker()

	broker.Connect(context.Background(), registry.ConnectRequest{
		Username: "alice",
		Channels: []string{"pub_chan"},
		ChannelConfigs: map[string]model.ChannelConfig{
			"pub_chan": {NotifyPresence: true},
		},
	})

	topics, bodies := disp.dispatched()
	require.Len(t, topics, 1)
	assert.Equal(t, pubsub.TopicMessages, topics[0])

	var env model.Envelope
	require.NoError(t, json.Unmarshal(bodies[0], &env))
	assert.Equal(t, model.TypePresence, env.Type)
	assert.Equal(t, model.ActionJoined, env.Action)
	assert.Equal(t, "alice", env.User)
}

func TestDisconnectRecordsReason(t *testing.T) {
	broker, _, _ := newTestBroker()
	res := broker.Connect(context.Background(), registry.ConnectRequest{Username: "alice"})

	require.True(t, broker.Disconnect(context.Background(), res.Connection.ID))

	info := broker.AdminInfo()
	assert.Equal(t, "client_disconnect", info.RecentlyReaped[res.Connection.ID.String()])

	assert.False(t, broker.Disconnect(context.Background(), res.Connection.ID))
}

func TestAcceptEditsAndDeletesDispatchTopics(t *testing.T) {
	broker, _, disp := newTestBroker()

	broker.AcceptEdits(context.Background(), []model.MessageEdit{
		{UUID: uuid.New(), Channel: "c", Message: json.RawMessage(`{}`)},
	})
	broker.AcceptDeletes(context.Background(), []model.MessageDelete{
		{UUID: uuid.New(), Channel: "c"},
	})

	topics, _ := disp.dispatched()
	assert.Equal(t, []string{pubsub.TopicMessageEdits, pubsub.TopicMessageDeletes}, topics)
}

func TestChangeUserStateUnknownUserDoesNotBroadcast(t *testing.T) {
	broker, _, disp := newTestBroker()

	res := broker.ChangeUserState(context.Background(), "ghost",
		map[string]json.RawMessage{"a": json.RawMessage(`1`)}, nil)
	assert.Empty(t, res.State)

	topics, _ := disp.dispatched()
	assert.Empty(t, topics)
}

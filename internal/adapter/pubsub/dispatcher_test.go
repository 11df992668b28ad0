package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchPublishesJSONPayload(t *testing.T) {
	bus := NewBus(watermill.NopLogger{})
	defer bus.Close()

	msgs, err := bus.Subscribe(context.Background(), TopicMessages)
	require.NoError(t, err)

	d := NewEventDispatcher(bus)
	payload := map[string]string{"channel": "c", "user": "alice"}
	require.NoError(t, d.Dispatch(context.Background(), TopicMessages, payload))

	select {
	case msg := <-msgs:
		assert.JSONEq(t, `{"channel":"c","user":"alice"}`, string(msg.Payload))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestDispatchRejectsNilAndUnmarshalable(t *testing.T) {
	bus := NewBus(watermill.NopLogger{})
	defer bus.Close()

	d := NewEventDispatcher(bus)
	assert.Error(t, d.Dispatch(context.Background(), TopicMessages, nil))
	assert.Error(t, d.Dispatch(context.Background(), TopicMessages, make(chan int)))
}

package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// EventDispatcher defines the high-level contract for enqueuing work on
// the dispatch bus. Handlers stay agnostic of the transport behind it.
type EventDispatcher interface {
	Dispatch(ctx context.Context, topic string, payload any) error
}

type eventDispatcher struct {
	publisher message.Publisher
}

// NewEventDispatcher returns the interface instead of the pointer to
// the struct.
func NewEventDispatcher(pub message.Publisher) EventDispatcher {
	return &eventDispatcher{publisher: pub}
}

func (d *eventDispatcher) Dispatch(ctx context.Context, topic string, payload any) error {
	if payload == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil payload")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), raw)
	msg.SetContext(ctx)

	if err := d.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

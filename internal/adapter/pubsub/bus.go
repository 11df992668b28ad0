package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/fx"
)

// Dispatch topics. Every accepted publication is pushed through the
// in-process bus; the relay router's single consumer per topic is what
// serializes fan-out and yields the per-recipient ordering guarantee.
const (
	TopicMessages       = "channelstream.messages"
	TopicMessageEdits   = "channelstream.messages.edit"
	TopicMessageDeletes = "channelstream.messages.delete"
)

// NewBus builds the in-memory pub/sub carrying accepted payloads from
// the HTTP layer to the fan-out consumers.
func NewBus(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 1024,
	}, logger)
}

var Module = fx.Module("pubsub",
	fx.Provide(
		NewBus,
		func(bus *gochannel.GoChannel) message.Publisher { return bus },
		func(bus *gochannel.GoChannel) message.Subscriber { return bus },
		NewEventDispatcher,
	),
	fx.Invoke(func(lc fx.Lifecycle, bus *gochannel.GoChannel) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return bus.Close()
			},
		})
	}),
)

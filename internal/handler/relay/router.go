/*
Package relay hosts the consumers of the in-process dispatch bus. The
HTTP layer only validates and enqueues; the single consumer behind each
topic here is what actually mutates history and fans envelopes out, so
publications are applied in acceptance order for every recipient.
*/
package relay

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/channelstream/channelstream/internal/adapter/pubsub"
	"github.com/channelstream/channelstream/internal/domain/model"
	"github.com/channelstream/channelstream/internal/service"
)

// RelayHandler bridges bus payloads to the distributor.
type RelayHandler struct {
	distributor service.Distributor
	logger      *slog.Logger
}

func NewRelayHandler(distributor service.Distributor, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{distributor: distributor, logger: logger}
}

func (h *RelayHandler) OnMessage(msg *message.Message, env *model.Envelope) error {
	h.distributor.PassMessage(msg.Context(), env)
	return nil
}

func (h *RelayHandler) OnMessageEdit(msg *message.Message, edit *model.MessageEdit) error {
	h.distributor.EditMessage(msg.Context(), *edit)
	return nil
}

func (h *RelayHandler) OnMessageDelete(msg *message.Message, del *model.MessageDelete) error {
	h.distributor.DeleteMessage(msg.Context(), *del)
	return nil
}

// NewRouter builds the watermill router carrying the dispatch pipeline.
func NewRouter(wmLogger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{}, wmLogger)
}

// RegisterHandlers wires one consumer per dispatch topic.
func (h *RelayHandler) RegisterHandlers(router *message.Router, sub message.Subscriber) {
	router.AddMiddleware(
		middleware.Recoverer,
		LoggingMiddleware(h.logger),
	)

	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{"ON_MESSAGE", pubsub.TopicMessages, bind(h.logger, h.OnMessage)},
		{"ON_MESSAGE_EDIT", pubsub.TopicMessageEdits, bind(h.logger, h.OnMessageEdit)},
		{"ON_MESSAGE_DELETE", pubsub.TopicMessageDeletes, bind(h.logger, h.OnMessageDelete)},
	}

	for _, c := range configs {
		router.AddConsumerHandler(c.name, c.topic, sub, c.handler)
	}

	h.logger.Info("dispatch pipeline ready", "topics", len(configs))
}

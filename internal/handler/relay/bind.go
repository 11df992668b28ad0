package relay

import (
	"encoding/json"
	"log/slog"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"
)

// consumerFunc is the functional signature for the domain side of a
// topic consumer.
type consumerFunc[T any] func(msg *message.Message, payload *T) error

// bind connects a watermill consumer to typed domain logic, handling
// panic recovery and poison payloads. Undecodable payloads are acked:
// redelivering them can never succeed.
func bind[T any](logger *slog.Logger, fn consumerFunc[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("relay handler panic recovered",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID,
				)
			}
		}()

		payload := new(T)
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			logger.Error("relay payload decode failed", "err", err, "msg_id", msg.UUID)
			return nil
		}

		return fn(msg, payload)
	}
}

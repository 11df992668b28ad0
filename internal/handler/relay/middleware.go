package relay

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// LoggingMiddleware adds latency and outcome logging around every
// consumer.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			logger.Debug("bus message handled",
				"msg_id", msg.UUID,
				"duration_ms", time.Since(start).Milliseconds(),
				"success", err == nil,
			)
			return msgs, err
		}
	}
}

package relay

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"
)

var Module = fx.Module("relay",
	fx.Provide(
		NewRelayHandler,
		NewRouter,
	),

	fx.Invoke(func(lc fx.Lifecycle, router *message.Router, sub message.Subscriber, h *RelayHandler) {
		h.RegisterHandlers(router, sub)

		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					_ = router.Run(context.Background())
				}()
				select {
				case <-router.Running():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			OnStop: func(context.Context) error {
				return router.Close()
			},
		})
	}),
)

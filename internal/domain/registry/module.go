package registry

import (
	"go.uber.org/fx"

	appconfig "github.com/channelstream/channelstream/config"
)

var Module = fx.Module("registry",
	fx.Provide(
		func(cfg *appconfig.Config) *Registry {
			return NewRegistry(
				WithQueueSize(cfg.Broker.QueueSize),
			)
		},
	),
)

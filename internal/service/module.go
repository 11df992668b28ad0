package service

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/channelstream/channelstream/config"
	"github.com/channelstream/channelstream/internal/adapter/pubsub"
	"github.com/channelstream/channelstream/internal/domain/registry"
	"github.com/channelstream/channelstream/internal/metrics"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		NewReapedLog,

		// Domain services
		fx.Annotate(
			NewBrokerService,
			fx.As(new(Broker)),
		),
		fx.Annotate(
			NewFanoutService,
			fx.As(new(Distributor)),
		),

		func(reg *registry.Registry, dispatcher pubsub.EventDispatcher, reaped *ReapedLog, m *metrics.Registry, logger *slog.Logger, cfg *config.Config) *Janitor {
			return NewJanitor(reg, dispatcher, reaped, m, logger, cfg.Broker.GCInterval, cfg.Broker.GCConnsAfter)
		},
	),

	fx.Invoke(func(lc fx.Lifecycle, j *Janitor) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go j.Run(context.Background())
				return nil
			},
			OnStop: func(context.Context) error {
				j.Stop()
				return nil
			},
		})
	}),
)

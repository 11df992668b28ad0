package cmd

import (
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/fx"

	"github.com/channelstream/channelstream/config"
	httpsrv "github.com/channelstream/channelstream/infra/server/http"
	"github.com/channelstream/channelstream/internal/adapter/pubsub"
	"github.com/channelstream/channelstream/internal/domain/registry"
	"github.com/channelstream/channelstream/internal/handler/httpapi"
	"github.com/channelstream/channelstream/internal/handler/relay"
	"github.com/channelstream/channelstream/internal/metrics"
	"github.com/channelstream/channelstream/internal/service"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
		),
		fx.Invoke(func(c *config.Config, logger *slog.Logger, level *slog.LevelVar) {
			c.Watch(logger, level)
		}),
		registry.Module,
		pubsub.Module,
		metrics.Module,
		service.Module,
		relay.Module,
		httpsrv.Module,
		httpapi.Module,
	)
}

// ProvideLogger builds the process logger. The returned LevelVar is
// shared with the config watcher so log level changes apply live.
func ProvideLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(config.ParseLevel(cfg.Logging.Level))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", ServiceName)
	slog.SetDefault(logger)
	return logger, level
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}

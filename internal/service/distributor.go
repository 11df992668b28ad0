package service

import (
	"context"
	"log/slog"

	"github.com/channelstream/channelstream/internal/domain/model"
	"github.com/channelstream/channelstream/internal/domain/registry"
	"github.com/channelstream/channelstream/internal/metrics"
)

// Distributor is the fan-out entry point driven by the relay consumers.
type Distributor interface {
	PassMessage(ctx context.Context, env *model.Envelope)
	EditMessage(ctx context.Context, edit model.MessageEdit)
	DeleteMessage(ctx context.Context, del model.MessageDelete)
}

// FanoutService routes envelopes into the registry and updates the
// delivery metrics. A slow or gone connection never aborts fan-out to
// the rest: the registry enqueue path sheds instead of erroring.
type FanoutService struct {
	registry *registry.Registry
	metrics  *metrics.Registry
	logger   *slog.Logger
}

func NewFanoutService(reg *registry.Registry, m *metrics.Registry, logger *slog.Logger) *FanoutService {
	return &FanoutService{
		registry: reg,
		metrics:  m,
		logger:   logger,
	}
}

func (s *FanoutService) PassMessage(_ context.Context, env *model.Envelope) {
	delivered := s.registry.PassMessage(env)
	s.metrics.MessagesPublished.Inc()
	s.metrics.MessagesDelivered.Add(float64(delivered))
	s.logger.Debug("message fanned out",
		"uuid", env.UUID,
		"type", env.Type,
		"channel", env.Channel,
		"delivered", delivered,
	)
}

func (s *FanoutService) EditMessage(_ context.Context, edit model.MessageEdit) {
	delivered := s.registry.EditMessage(edit)
	s.metrics.MessagesPublished.Inc()
	s.metrics.MessagesDelivered.Add(float64(delivered))
	s.logger.Debug("message edit propagated",
		"uuid", edit.UUID,
		"channel", edit.Channel,
		"delivered", delivered,
	)
}

func (s *FanoutService) DeleteMessage(_ context.Context, del model.MessageDelete) {
	delivered := s.registry.DeleteMessage(del)
	s.metrics.MessagesPublished.Inc()
	s.metrics.MessagesDelivered.Add(float64(delivered))
	s.logger.Debug("message delete propagated",
		"uuid", del.UUID,
		"channel", del.Channel,
		"delivered", delivered,
	)
}

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/channelstream/channelstream/internal/adapter/pubsub"
	"github.com/channelstream/channelstream/internal/domain/registry"
	"github.com/channelstream/channelstream/internal/metrics"
)

// Janitor is the periodic sweeper reclaiming idle connections. A reaped
// connection goes through the same teardown as an explicit disconnect:
// detach from the user, part every channel, drop empty non-salvageable
// channels. Users stay remembered.
type Janitor struct {
	registry   *registry.Registry
	dispatcher pubsub.EventDispatcher
	reaped     *ReapedLog
	metrics    *metrics.Registry
	logger     *slog.Logger

	interval time.Duration
	maxAge   time.Duration

	done chan struct{}
}

func NewJanitor(reg *registry.Registry, dispatcher pubsub.EventDispatcher, reaped *ReapedLog, m *metrics.Registry, logger *slog.Logger, interval, maxAge time.Duration) *Janitor {
	return &Janitor{
		registry:   reg,
		dispatcher: dispatcher,
		reaped:     reaped,
		metrics:    m,
		logger:     logger,
		interval:   interval,
		maxAge:     maxAge,
		done:       make(chan struct{}),
	}
}

// Run sweeps on the configured cadence until ctx is cancelled or Stop
// is called. Sweep failures are logged, never raised.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) Stop() {
	close(j.done)
}

func (j *Janitor) sweep(ctx context.Context) {
	reaped, notify := j.registry.SweepExpired(j.maxAge)
	for _, id := range reaped {
		j.reaped.Record(id, "idle_timeout")
	}
	if len(reaped) > 0 {
		j.metrics.ConnectionsReaped.Add(float64(len(reaped)))
		j.logger.Info("idle connections reaped", "count", len(reaped), "max_age", j.maxAge)
	}
	for _, env := range notify {
		if err := j.dispatcher.Dispatch(ctx, pubsub.TopicMessages, env); err != nil {
			j.logger.Error("presence dispatch failed", "channel", env.Channel, "err", err)
		}
	}

	conns, channels, users := j.registry.Counts()
	j.metrics.ConnectionsActive.Set(float64(conns))
	j.metrics.ChannelsActive.Set(float64(channels))
	j.metrics.UsersRemembered.Set(float64(users))
}

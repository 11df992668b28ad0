package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

// Registry wraps the Prometheus collectors exposed by the broker.
type Registry struct {
	ConnectionsActive prometheus.Gauge
	ChannelsActive    prometheus.Gauge
	UsersRemembered   prometheus.Gauge

	MessagesPublished prometheus.Counter
	MessagesDelivered prometheus.Counter
	ConnectionsReaped prometheus.Counter

	reg *prometheus.Registry
}

// NewRegistry creates the Prometheus collectors on a private registry,
// so multiple broker instances in one process never collide.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Registry{
		reg: reg,
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "channelstream_connections_active",
			Help: "Number of registered client connections",
		}),
		ChannelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "channelstream_channels_active",
			Help: "Number of live channels",
		}),
		UsersRemembered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "channelstream_users_remembered",
			Help: "Number of remembered users, connected or not",
		}),
		MessagesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "channelstream_messages_published_total",
			Help: "Total number of accepted publications",
		}),
		MessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "channelstream_messages_delivered_total",
			Help: "Total number of per-connection fan-out deliveries",
		}),
		ConnectionsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "channelstream_connections_reaped_total",
			Help: "Total number of connections removed by the idle sweeper",
		}),
	}
}

// Handler returns an HTTP handler exposing the Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

var Module = fx.Module("metrics",
	fx.Provide(NewRegistry),
)

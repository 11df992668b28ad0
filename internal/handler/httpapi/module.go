package httpapi

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/channelstream/channelstream/config"
	"github.com/channelstream/channelstream/infra/server/http"
	"github.com/channelstream/channelstream/internal/metrics"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewAPI),
	fx.Invoke(RegisterRoutes),
)

// RegisterRoutes mounts the API on the server mux. The control plane
// sits behind the shared secret, the transports and disconnect are
// open, and the admin endpoint uses basic auth.
func RegisterRoutes(srv *http.Server, api *API, cfg *config.Config, m *metrics.Registry) {
	r := srv.Router

	r.Group(func(pr chi.Router) {
		pr.Use(RequireSecret(cfg.Server.Secret))

		pr.Post("/connect", api.Connect)
		pr.Post("/subscribe", api.Subscribe)
		pr.Post("/unsubscribe", api.Unsubscribe)
		pr.Post("/message", api.PostMessages)
		pr.Patch("/message", api.PatchMessages)
		pr.Delete("/message", api.DeleteMessages)
		pr.Post("/user_state", api.UserState)
		pr.Post("/channel_config", api.ChannelConfig)
		pr.Post("/info", api.Info)
	})

	r.Get("/listen", api.Listen)
	r.Get("/ws", api.Websocket)
	r.Get("/disconnect", api.Disconnect)
	r.Post("/disconnect", api.Disconnect)

	r.Group(func(ar chi.Router) {
		ar.Use(RequireBasicAuth(cfg.Server.AdminUser, cfg.Server.AdminSecret))
		ar.Get("/admin/admin.json", api.Admin)
		ar.Post("/admin/admin.json", api.Admin)
	})

	if cfg.Metrics.Enabled {
		r.Method("GET", cfg.Metrics.Endpoint, m.Handler())
	}
}

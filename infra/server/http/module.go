package httpsrv

import (
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	"github.com/webitel/im-realtime-bench/config"
)

var Module = fx.Module("http-server",
	fx.Provide(func(cfg *config.Config, handler http.Handler, logger *slog.Logger) *Server {
		return New(cfg.HTTP, handler, logger.With("component", "http-server"))
	}),

	// [LIFECYCLE] Registered last so it stops first and no request outlives its dependencies
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: s.Start,
			OnStop:  s.Shutdown,
		})
	}),
)

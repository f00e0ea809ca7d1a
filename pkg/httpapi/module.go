package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"trackpoints/pkg/config"
	"trackpoints/pkg/health"
	"trackpoints/pkg/middleware"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewEngine),
	fx.Invoke(registerHealthEndpoints, registerMetricsEndpoint),
)

// NewEngine builds the gin engine every handler module registers its routes on.
func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.AccessLog(), middleware.Error())
	return r
}

func registerHealthEndpoints(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
}

func registerMetricsEndpoint(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

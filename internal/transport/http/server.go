package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/studio-presence/internal/auth"
	"github.com/vovakirdan/studio-presence/internal/config"
	"github.com/vovakirdan/studio-presence/internal/contact"
	"github.com/vovakirdan/studio-presence/internal/geo"
	"github.com/vovakirdan/studio-presence/internal/store"
)

// Deps are the services the HTTP layer talks to.
type Deps struct {
	Hub     Presence
	Visits  store.VisitStore
	Auth    *auth.Service
	Geo     *geo.Client
	Contact *contact.Service
}

// NewServer builds the HTTP server with all routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	if deps.Visits == nil {
		deps.Visits = store.Nop{}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Warn().Err(err).Strs("trusted_proxies", cfg.TrustedProxies).Msg("invalid trusted_proxies, trusting none")
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gin.WrapH(NewWSHandler(deps.Hub, deps.Visits, cfg, logger)))

	api := NewAPIHandlers(deps, cfg, logger)
	apiGroup := router.Group("/api")
	apiGroup.GET("/visitors", api.Visitors)
	apiGroup.GET("/geo", api.Geo)
	apiGroup.POST("/contact", api.Contact)
	apiGroup.POST("/admin/login", api.AdminLogin)
	apiGroup.POST("/admin/logout", api.AdminLogout)

	admin := apiGroup.Group("/admin", AuthMiddleware(deps.Auth, logger))
	admin.GET("/stats", api.AdminStats)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

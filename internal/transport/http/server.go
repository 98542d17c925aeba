package http

import (
	"context"
	"net"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-tcp/internal/config"
	"github.com/vovakirdan/wirechat-tcp/internal/store"
)

// ConnHandler runs the chat protocol on an accepted byte stream.
type ConnHandler interface {
	HandleConn(ctx context.Context, conn net.Conn)
}

// UserLister reports the registered usernames.
type UserLister interface {
	Users(ctx context.Context) ([]string, error)
}

// Deps are the collaborators the HTTP surface exposes. Nil fields disable
// the matching routes.
type Deps struct {
	Conns    ConnHandler
	Users    UserLister
	History  store.MessageStore
	Gatherer prometheus.Gatherer
}

// NewServer builds an HTTP server with the chat routes.
func NewServer(deps Deps, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers the routes on a gin engine.
func NewRouter(deps Deps, cfg config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	if deps.Conns != nil {
		router.GET("/ws", gin.WrapH(NewWSHandler(deps.Conns, int64(cfg.MaxFrameBytes), logger)))
	}

	api := NewAPIHandlers(deps.History, deps.Users, logger)
	apiGroup := router.Group("/api")
	if deps.History != nil {
		apiGroup.GET("/history", api.History)
		apiGroup.GET("/history/since", api.HistorySince)
	}
	if deps.Users != nil {
		apiGroup.GET("/users", api.ListUsers)
	}

	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

// Package api exposes the feed over HTTP.
package api

import (
	"net/http"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/townhall/config"
	_ "github.com/d60-Lab/townhall/docs"
	"github.com/d60-Lab/townhall/internal/api/handler"
	"github.com/d60-Lab/townhall/internal/api/middleware"
	"github.com/d60-Lab/townhall/internal/api/stream"
	"github.com/d60-Lab/townhall/internal/metrics"
)

// Deps 路由依赖
type Deps struct {
	Config  *config.Config
	Handler *handler.Handler
	Tokens  *middleware.SessionTokens
	Hub     *stream.Hub
	Metrics *metrics.Metrics
	Sentry  bool
	Tracing bool
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if d.Sentry {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true, Timeout: 2 * time.Second}))
	}
	if d.Tracing {
		r.Use(otelgin.Middleware(d.Config.Tracing.ServiceName))
	}
	r.Use(middleware.Logger(d.Metrics))
	r.Use(cors.New(corsConfig(d.Config.Server.AllowOrigins)))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/stream", "/metrics"})))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	h := d.Handler
	v1 := r.Group("/api/v1")
	v1.Use(middleware.RateLimit(d.Config.RateLimit))
	v1.POST("/session", h.CreateSession)

	authed := v1.Group("")
	authed.Use(middleware.Auth(d.Tokens))
	{
		authed.GET("/me", h.Me)
		authed.POST("/me/regenerate", h.Regenerate)
		authed.GET("/status", h.Status)

		authed.POST("/business/login", h.BusinessLogin)
		authed.POST("/business/funds", h.AddFunds)
		authed.POST("/business/campaigns", h.Promote)
		authed.GET("/business/campaigns", h.ListCampaigns)

		authed.GET("/feed", h.Feed)
		authed.POST("/posts", h.CreatePost)
		authed.POST("/posts/:id/vote", h.Vote)
		authed.POST("/posts/:id/keep", h.Keep)
		authed.POST("/posts/:id/replies", h.Reply)

		authed.POST("/groups", h.CreateGroup)
		authed.POST("/groups/join", h.JoinGroup)
		authed.GET("/groups", h.ListGroups)

		if d.Hub != nil {
			authed.GET("/stream", d.Hub.Serve)
		}
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders: []string{"Content-Length", "Content-Type"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

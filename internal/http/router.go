package http

import (
	"log/slog"

	"github.com/geocoder89/userhub/internal/auth"
	"github.com/geocoder89/userhub/internal/config"
	"github.com/geocoder89/userhub/internal/http/handlers"
	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/geocoder89/userhub/internal/service/users"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Deps are the collaborators cmd/api constructs and owns.
type Deps struct {
	Users *users.Service
	JWT   *auth.Manager
	Prom  *observability.Prom

	// CachePing reports cache health on /readyz without gating readiness.
	CachePing handlers.PingFunc
}

func NewRouter(log *slog.Logger, cfg config.Config, deps Deps) *gin.Engine {
	if cfg.Env != config.EnvDev {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(middlewares.RequestID())
	r.Use(handlers.Recovery(log, cfg.IsProd()))
	r.Use(middlewares.RequestLogger(log))
	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(cfg.MaxBodyBytes))
	r.Use(handlers.ErrorHandler(log, cfg.IsProd()))

	r.NoRoute(handlers.NotFound)

	// health
	h := handlers.NewHealthHandler(deps.Users.Ready, deps.CachePing)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if deps.Prom != nil {
		r.GET("/metrics", gin.WrapH(deps.Prom.Handler()))
	}

	authMW := middlewares.NewAuthMiddleware(deps.JWT)
	limiter := middlewares.NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateWindow)

	authHandler := handlers.NewAuthHandler(deps.Users)
	usersHandler := handlers.NewUsersHandler(deps.Users)

	authGroup := r.Group("/api/auth")
	authGroup.Use(limiter.RateLimiterMiddleware(middlewares.KeyByIP))
	{
		authGroup.POST("/register", middlewares.RequireJSON(), authHandler.Register)
		authGroup.POST("/login", middlewares.RequireJSON(), authHandler.Login)
	}

	usersGroup := r.Group("/api/users")
	{
		usersGroup.GET("/me", authMW.RequireAuth(), usersHandler.Me)
		usersGroup.PATCH("/me", authMW.RequireAuth(), middlewares.RequireJSON(), usersHandler.UpdateMe)

		usersGroup.POST("/:id/follow", authMW.RequireAuth(), usersHandler.Follow)
		usersGroup.POST("/:id/unfollow", authMW.RequireAuth(), usersHandler.Unfollow)

		usersGroup.GET("/:id/followers", usersHandler.Followers)
		usersGroup.GET("/:id/following", usersHandler.Following)

		usersGroup.GET("/search/users", usersHandler.Search)
	}

	return r
}

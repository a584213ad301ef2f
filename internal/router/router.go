package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rujing/internal/auth"
	"rujing/internal/handlers"
	"rujing/internal/metrics"
	"rujing/internal/middleware"
	"rujing/internal/repository"
	"rujing/internal/services"
)

// Deps is everything the routes need from main.
type Deps struct {
	Repo         *repository.CommentRepository
	Verifier     *auth.TokenVerifier
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	LoginURL     string
	RefetchDelay time.Duration

	// AllowedOrigins may open the live socket from another host.
	AllowedOrigins []string
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(d.Verifier, d.Repo, d.Logger.Named("auth"))
	commentHandler := handlers.NewCommentHandler(d.Repo, d.Logger.Named("comments"))
	liveHandler := handlers.NewLiveHandler(d.Repo, d.Logger.Named("live"), d.Metrics, handlers.LiveOptions{
		LoginURL:       d.LoginURL,
		RefetchDelay:   d.RefetchDelay,
		AllowedOrigins: d.AllowedOrigins,
	})

	// Operational
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	// Public routes
	r.GET("/", commentHandler.Page)                    // comment section page
	r.GET("/api/comments", commentHandler.List)        // thread tree + caller's likes
	r.GET("/ws/comments", liveHandler.Serve)           // live view socket
	r.GET("/login", authHandler.ShowLogin)             // hosted sign-in page
	r.POST("/auth/session", authHandler.CreateSession) // token -> session cookie
	r.GET("/logout", authHandler.Logout)               // clear session

	// Protected routes
	api := r.Group("/api/comments")
	{
		api.POST("", middleware.AuthRequired(d.LoginURL, services.MsgLoginToComment), commentHandler.Create)
		api.POST("/:id/like", middleware.AuthRequired(d.LoginURL, services.MsgLoginToLike), commentHandler.Like)
		api.GET("/liked", middleware.AuthRequired(d.LoginURL, services.MsgLoginToLike), commentHandler.Liked)
	}
}

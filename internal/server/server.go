package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/emilythestrangee/forum/backend/internal/auth"
	"github.com/emilythestrangee/forum/backend/internal/config"
	"github.com/emilythestrangee/forum/backend/internal/database"
	"github.com/emilythestrangee/forum/backend/internal/handlers"
	"github.com/emilythestrangee/forum/backend/internal/middleware"
)

type Server struct {
	db      database.Service
	handler *handlers.Handler
	issuer  *auth.Issuer
	logger  *zap.Logger
}

// Deps are the already constructed collaborators the router needs.
type Deps struct {
	DB       database.Service
	Issuer   *auth.Issuer
	Services handlers.Services
	Logger   *zap.Logger
}

// NewServer creates and configures a new server
func NewServer(cfg config.Config, deps Deps) *http.Server {
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		db:      deps.DB,
		handler: handlers.NewHandler(deps.Services, deps.Logger),
		issuer:  deps.Issuer,
		logger:  deps.Logger,
	}

	return &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// RegisterRoutes sets up all application routes
func (s *Server) RegisterRoutes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(s.logger))

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", s.health)

	h := s.handler
	api := r.Group("/api")
	{
		api.POST("/auth/register", h.Auth.Register)
		api.POST("/auth/login", h.Auth.Login)
		api.GET("/polls/:id", h.Poll.GetPoll)
		api.GET("/polls/:id/results", h.Poll.GetResults)
		api.GET("/polls/:id/options", h.Poll.GetOptions)
		api.GET("/users", h.User.GetUsers)
		api.GET("/users/:id", h.User.GetUserProfile)
		api.GET("/users/:id/comments", h.User.GetUserComments)

		// Reads and votes that personalise or accept anonymous callers
		optional := api.Group("")
		optional.Use(middleware.OptionalAuth(s.issuer))
		{
			optional.GET("/posts", h.Post.GetPosts)
			optional.GET("/feed", h.Post.GetFeed)
			optional.GET("/search", h.Post.Search)
			optional.GET("/posts/:id", h.Post.GetPost)
			optional.GET("/posts/:id/comments", h.Post.GetComments)
			optional.POST("/posts/:id/upvote", h.Post.Upvote)
			optional.POST("/posts/:id/downvote", h.Post.Downvote)
			optional.GET("/comments/:id", h.Comment.GetComment)
			optional.POST("/comments/:id/upvote", h.Comment.UpvoteComment)
			optional.POST("/comments/:id/downvote", h.Comment.DownvoteComment)
			optional.GET("/users/:id/posts", h.User.GetUserPosts)
		}

		// Protected routes (authentication required)
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(s.issuer))
		{
			protected.GET("/me", h.Auth.GetMe)

			protected.PUT("/users/:id", h.User.UpdateUserProfile)
			protected.DELETE("/users/:id", h.User.DeleteUser)

			protected.POST("/posts", h.Post.CreatePost)
			protected.PUT("/posts/:id", h.Post.UpdatePost)
			protected.DELETE("/posts/:id", h.Post.DeletePost)
			protected.DELETE("/posts/:id/upvote", h.Post.RemoveUpvote)
			protected.DELETE("/posts/:id/downvote", h.Post.RemoveDownvote)
			protected.POST("/posts/:id/comments", h.Post.CreateComment)

			protected.PUT("/comments/:id", h.Comment.UpdateComment)
			protected.DELETE("/comments/:id", h.Comment.DeleteComment)
			protected.POST("/comments/:id/reply", h.Comment.Reply)
			protected.DELETE("/comments/:id/upvote", h.Comment.RemoveUpvote)
			protected.DELETE("/comments/:id/downvote", h.Comment.RemoveDownvote)

			protected.POST("/polls", h.Poll.CreatePoll)
			protected.PUT("/polls/:id", h.Poll.UpdatePoll)
			protected.DELETE("/polls/:id", h.Poll.DeletePoll)
			protected.POST("/polls/:id/vote", h.Poll.Vote)
			protected.PUT("/polls/:id/options/:optionId", h.Poll.UpdateOption)
			protected.DELETE("/polls/:id/options/:optionId", h.Poll.DeleteOption)
		}
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	stats := s.db.Health(c.Request.Context())
	if stats["status"] != "up" {
		c.JSON(http.StatusServiceUnavailable, stats)
		return
	}
	c.JSON(http.StatusOK, stats)
}

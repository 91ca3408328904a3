package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/emilythestrangee/forum/backend/internal/apperr"
	"github.com/emilythestrangee/forum/backend/internal/comments"
	"github.com/emilythestrangee/forum/backend/internal/middleware"
	"github.com/emilythestrangee/forum/backend/internal/polls"
	"github.com/emilythestrangee/forum/backend/internal/posts"
	"github.com/emilythestrangee/forum/backend/internal/users"
)

// Services are the domain services the HTTP layer exposes.
type Services struct {
	Users    *users.Service
	Posts    *posts.Service
	Comments *comments.Service
	Polls    *polls.Service
}

// Handler combines all handler types
type Handler struct {
	Auth    *AuthHandler
	User    *UserHandler
	Post    *PostHandler
	Comment *CommentHandler
	Poll    *PollHandler
}

// NewHandler creates a unified handler with all sub-handlers
func NewHandler(svc Services, logger *zap.Logger) *Handler {
	logger = logger.Named("handlers")
	return &Handler{
		Auth:    &AuthHandler{users: svc.Users, logger: logger},
		User:    &UserHandler{users: svc.Users, posts: svc.Posts, comments: svc.Comments, logger: logger},
		Post:    &PostHandler{posts: svc.Posts, comments: svc.Comments, logger: logger},
		Comment: &CommentHandler{comments: svc.Comments, logger: logger},
		Poll:    &PollHandler{polls: svc.Polls, logger: logger},
	}
}

func extractUserID(c *gin.Context) (int, bool) {
	raw, exists := c.Get(middleware.UserIDKey)
	if !exists {
		return 0, false
	}
	switch v := raw.(type) {
	case int:
		return v, true
	case uint:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// requireUser writes a 401 and reports false when the request is anonymous.
func requireUser(c *gin.Context) (int, bool) {
	userID, ok := extractUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
	}
	return userID, ok
}

// optionalUser returns the caller's id, or nil for anonymous requests.
func optionalUser(c *gin.Context) *int {
	if userID, ok := extractUserID(c); ok {
		return &userID
	}
	return nil
}

// paramID parses a positive integer path parameter, writing a 400 otherwise.
func paramID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError maps a service error to its HTTP status. Errors outside the
// apperr taxonomy are logged and reported as a generic 500.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	if e, ok := apperr.As(err); ok {
		body := gin.H{"error": e.Message}
		if e.Reason != apperr.ReasonNone {
			body["reason"] = e.Reason
		}
		c.JSON(statusFor(e.Kind), body)
		return
	}

	_ = c.Error(err)
	logger.Error("Request failed",
		zap.Error(err),
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.String("request_id", c.GetString(middleware.RequestIDKey)))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

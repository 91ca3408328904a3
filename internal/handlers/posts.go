package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/emilythestrangee/forum/backend/internal/comments"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/posts"
)

type PostHandler struct {
	posts    *posts.Service
	comments *comments.Service
	logger   *zap.Logger
}

func listQuery(c *gin.Context, sort string) (posts.ListQuery, bool) {
	q := posts.ListQuery{
		Type:     models.PostType(c.Query("type")),
		Category: models.Category(c.Query("category")),
		Sort:     c.DefaultQuery("sort", sort),
		Search:   c.Query("q"),
	}
	for name, dst := range map[string]*int{"page": &q.Page, "limit": &q.Limit} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
			return q, false
		}
		*dst = v
	}
	return q, true
}

// GetPosts returns a page of posts, newest first unless sort=top
func (h *PostHandler) GetPosts(c *gin.Context) {
	h.list(c, posts.SortNew)
}

// GetFeed returns a page of posts ordered by upvotes
func (h *PostHandler) GetFeed(c *gin.Context) {
	h.list(c, posts.SortTop)
}

// Search returns posts whose title or body contains q
func (h *PostHandler) Search(c *gin.Context) {
	if c.Query("q") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Search query is required"})
		return
	}
	h.list(c, posts.SortNew)
}

func (h *PostHandler) list(c *gin.Context, sort string) {
	q, ok := listQuery(c, sort)
	if !ok {
		return
	}

	page, err := h.posts.List(c.Request.Context(), q, optionalUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetPost returns a single post
func (h *PostHandler) GetPost(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	post, err := h.posts.GetByID(c.Request.Context(), id, optionalUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// CreatePost creates a new text post
func (h *PostHandler) CreatePost(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var input models.CreatePostRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.posts.Create(c.Request.Context(), posts.CreateInput{
		AuthorID: userID,
		Title:    input.Title,
		Body:     input.Body,
		Category: input.Category,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

// UpdatePost updates a post (owner only)
func (h *PostHandler) UpdatePost(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var input models.PostUpdate
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.posts.Update(c.Request.Context(), id, userID, input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// DeletePost deletes a post (owner only)
func (h *PostHandler) DeletePost(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	if err := h.posts.Delete(c.Request.Context(), id, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted successfully"})
}

type castFunc func(ctx context.Context, id int, actorID *int) (*models.Post, error)

type withdrawFunc func(ctx context.Context, id, actorID int) (*models.Post, error)

func (h *PostHandler) cast(c *gin.Context, vote castFunc) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	post, err := vote(c.Request.Context(), id, optionalUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *PostHandler) withdraw(c *gin.Context, remove withdrawFunc) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	post, err := remove(c.Request.Context(), id, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *PostHandler) Upvote(c *gin.Context)         { h.cast(c, h.posts.Upvote) }
func (h *PostHandler) Downvote(c *gin.Context)       { h.cast(c, h.posts.Downvote) }
func (h *PostHandler) RemoveUpvote(c *gin.Context)   { h.withdraw(c, h.posts.RemoveUpvote) }
func (h *PostHandler) RemoveDownvote(c *gin.Context) { h.withdraw(c, h.posts.RemoveDownvote) }

// GetComments returns the comment tree of a post
func (h *PostHandler) GetComments(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var depth *int
	if raw := c.Query("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Depth must be an integer"})
			return
		}
		depth = &d
	}

	tree, err := h.comments.BuildTree(c.Request.Context(), id, depth, optionalUser(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, tree)
}

// CreateComment creates a new comment on a post
func (h *PostHandler) CreateComment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var input models.CreateCommentRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	comment, err := h.comments.Create(c.Request.Context(), comments.CreateInput{
		PostID:          id,
		AuthorID:        userID,
		Body:            input.Body,
		ParentCommentID: input.ParentCommentID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

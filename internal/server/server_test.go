package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emilythestrangee/forum/backend/internal/auth"
	"github.com/emilythestrangee/forum/backend/internal/comments"
	"github.com/emilythestrangee/forum/backend/internal/config"
	"github.com/emilythestrangee/forum/backend/internal/database"
	"github.com/emilythestrangee/forum/backend/internal/events"
	"github.com/emilythestrangee/forum/backend/internal/handlers"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/polls"
	"github.com/emilythestrangee/forum/backend/internal/posts"
	"github.com/emilythestrangee/forum/backend/internal/testutil"
	"github.com/emilythestrangee/forum/backend/internal/users"
	"github.com/emilythestrangee/forum/backend/internal/votes"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	code := m.Run()
	testutil.Terminate()
	os.Exit(code)
}

type client struct {
	t       *testing.T
	handler http.Handler
}

func newClient(t *testing.T) *client {
	db := testutil.DB(t)
	logger := zap.NewNop()
	issuer := auth.NewIssuer("test-secret", time.Hour)
	opts := votes.Options{Publisher: events.Nop{}, Logger: logger}

	srv := NewServer(config.Config{Port: 8080}, Deps{
		DB:     database.FromGorm(db, logger),
		Issuer: issuer,
		Services: handlers.Services{
			Users:    users.NewService(db, issuer, nil, logger),
			Posts:    posts.NewService(db, votes.NewPostLedger(db, opts), nil, logger),
			Comments: comments.NewService(db, votes.NewCommentLedger(db, opts), logger),
			Polls:    polls.NewService(db, nil, events.Nop{}, logger),
		},
		Logger: logger,
	})
	return &client{t: t, handler: srv.Handler}
}

func (c *client) do(method, path, token string, body any, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	if out != nil && w.Code < 300 {
		require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func (c *client) register(username string) (string, int) {
	c.t.Helper()
	var resp models.AuthResponse
	code := c.do(http.MethodPost, "/api/auth/register", "", gin.H{
		"first_name": username,
		"last_name":  "Tester",
		"username":   username,
		"email":      username + "@example.com",
		"password":   "secret123",
	}, &resp)
	require.Equal(c.t, http.StatusCreated, code)
	return resp.Token, resp.User.ID
}

func TestHealth(t *testing.T) {
	c := newClient(t)
	var stats map[string]string
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/health", "", nil, &stats))
	assert.Equal(t, "up", stats["status"])
}

func TestAuthFlow(t *testing.T) {
	c := newClient(t)
	_, id := c.register("alice")

	var login models.AuthResponse
	code := c.do(http.MethodPost, "/api/auth/login", "",
		gin.H{"username": "ALICE@example.com", "password": "secret123"}, &login)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, login.User.ID)

	code = c.do(http.MethodPost, "/api/auth/login", "",
		gin.H{"username": "alice", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	var me models.User
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/me", login.Token, nil, &me))
	assert.Equal(t, "alice", me.Username)

	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/api/me", "", nil, nil))
	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/api/auth/register", "", gin.H{
		"first_name": "a", "last_name": "b", "username": "alice",
		"email": "other@example.com", "password": "secret123",
	}, nil))
}

func TestPostVotingAndCommentTree(t *testing.T) {
	c := newClient(t)
	alice, _ := c.register("alice")
	bob, _ := c.register("bob")

	var post models.Post
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/posts", alice,
		gin.H{"title": "Hello", "body": "first post", "category": "Sports"}, &post))
	assert.Equal(t, models.CategorySports, post.Category)

	postPath := fmt.Sprintf("/api/posts/%d", post.ID)
	var voted models.Post
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, postPath+"/upvote", bob, nil, &voted))
	assert.Equal(t, 1, voted.Upvotes)
	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, postPath+"/upvote", bob, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, postPath+"/upvote", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodDelete, postPath+"/upvote", "", nil, nil))

	var view models.PostView
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, postPath, bob, nil, &view))
	assert.True(t, view.WasUpvoted)
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, postPath, "", nil, &view))
	assert.False(t, view.WasUpvoted)

	var root models.Comment
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, postPath+"/comments", bob,
		gin.H{"body": "root"}, &root))
	var reply models.Comment
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost,
		fmt.Sprintf("/api/comments/%d/reply", root.ID), alice, gin.H{"body": "reply"}, &reply))
	require.NotNil(t, reply.ParentCommentID)
	assert.Equal(t, root.ID, *reply.ParentCommentID)

	var tree []models.CommentNode
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, postPath+"/comments?depth=0", "", nil, &tree))
	require.Len(t, tree, 1)
	assert.Empty(t, tree[0].Replies)
	assert.True(t, tree[0].HasMoreReplies)

	require.Equal(t, http.StatusOK, c.do(http.MethodGet, postPath+"/comments", "", nil, &tree))
	require.Len(t, tree[0].Replies, 1)
	assert.Equal(t, "reply", tree[0].Replies[0].Body)

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, postPath+"/comments?depth=x", "", nil, nil))
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, postPath+"/comments?depth=-1", "", nil, nil))
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/api/posts/9999/comments", "", nil, nil))

	assert.Equal(t, http.StatusForbidden, c.do(http.MethodDelete, postPath, bob, nil, nil))
	assert.Equal(t, http.StatusOK, c.do(http.MethodDelete, postPath, alice, nil, nil))
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, postPath, "", nil, nil))
}

func TestFeedAndSearch(t *testing.T) {
	c := newClient(t)
	alice, _ := c.register("alice")
	for _, title := range []string{"Go generics", "Rust lifetimes", "Go modules"} {
		require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/posts", alice,
			gin.H{"title": title, "body": "notes"}, nil))
	}

	var page models.PostPage
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/posts?limit=2", "", nil, &page))
	assert.Len(t, page.Posts, 2)
	assert.EqualValues(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)

	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/search?q=go", "", nil, &page))
	assert.EqualValues(t, 2, page.Pagination.Total)

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/api/search", "", nil, nil))
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/api/feed?sort=hot", "", nil, nil))
}

func TestPollRoutes(t *testing.T) {
	c := newClient(t)
	carol, _ := c.register("carol")
	dave, _ := c.register("dave")

	var poll models.PollView
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/polls", carol, gin.H{
		"title":   "Favorite language",
		"options": []string{"Go", "Python", "TypeScript"},
	}, &poll))
	require.Len(t, poll.Options, 3)

	pollPath := fmt.Sprintf("/api/polls/%d", poll.ID)
	var results models.PollResults
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, pollPath+"/results", "", nil, &results))
	assert.Zero(t, results.TotalVotes)

	first, second := poll.Options[0].ID, poll.Options[1].ID
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, pollPath+"/vote", dave,
		gin.H{"option_ids": []int{first}}, &results))
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, pollPath+"/vote", dave,
		gin.H{"option_ids": []int{second}}, &results))
	assert.Equal(t, 1, results.TotalVotes)
	assert.Equal(t, 0, results.Options[0].Votes)
	assert.Equal(t, 1, results.Options[1].Votes)
	assert.InDelta(t, 100.0, results.Options[1].Percentage, 0.001)

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, pollPath+"/vote", dave,
		gin.H{"option_ids": []int{first, second}}, nil))
	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, pollPath+"/vote", "",
		gin.H{"option_ids": []int{first}}, nil))

	optionPath := fmt.Sprintf("%s/options/%d", pollPath, poll.Options[2].ID)
	assert.Equal(t, http.StatusForbidden, c.do(http.MethodDelete, optionPath, dave, nil, nil))
	assert.Equal(t, http.StatusOK, c.do(http.MethodDelete, optionPath, carol, nil, nil))
	optionPath = fmt.Sprintf("%s/options/%d", pollPath, first)
	assert.Equal(t, http.StatusConflict, c.do(http.MethodDelete, optionPath, carol, nil, nil))

	var options []models.PollOption
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, pollPath+"/options", "", nil, &options))
	assert.Len(t, options, 2)
}

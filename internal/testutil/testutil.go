// Package testutil runs store-backed tests against a throwaway Postgres
// started with testcontainers. Tests using it must not run in parallel: every
// call to DB truncates all forum tables.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/emilythestrangee/forum/backend/internal/database"
	"github.com/emilythestrangee/forum/backend/internal/models"
)

const image = "postgres:16-alpine"

var (
	once      sync.Once
	container *postgres.PostgresContainer
	shared    *gorm.DB
	startErr  error
)

// DB returns a migrated, empty database. The container is started on first
// use and reused for the rest of the package; call Terminate from TestMain.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	once.Do(func() {
		shared, startErr = start(context.Background())
	})
	require.NoError(t, startErr, "start postgres container")

	Reset(t, shared)
	return shared
}

func start(ctx context.Context) (*gorm.DB, error) {
	var err error
	container, err = postgres.Run(ctx, image,
		postgres.WithDatabase("forum_test"),
		postgres.WithUsername("forum"),
		postgres.WithPassword("forum"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("run container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("connection string: %w", err)
	}

	db, err := gorm.Open(gormpg.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	if err := database.FromGorm(db, zap.NewNop()).Migrate(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// Terminate stops the shared container, if one was started.
func Terminate() {
	if container != nil {
		_ = testcontainers.TerminateContainer(container)
	}
}

// Reset empties every forum table and restarts id sequences.
func Reset(t *testing.T, db *gorm.DB) {
	t.Helper()
	err := db.Exec(`TRUNCATE users, posts, comments, polls, poll_options,
		post_votes, comment_votes, poll_votes RESTART IDENTITY CASCADE`).Error
	require.NoError(t, err, "truncate tables")
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func CreateUser(t *testing.T, db *gorm.DB, username string) models.User {
	t.Helper()
	user := models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "not-a-real-hash",
		FirstName:    username,
		LastName:     "Tester",
	}
	require.NoError(t, db.Create(&user).Error, "create user %s", username)
	return user
}

func CreatePost(t *testing.T, db *gorm.DB, authorID int, title string) models.Post {
	t.Helper()
	post := models.Post{
		Title:    title,
		Body:     "body of " + title,
		Category: models.CategoryGeneral,
		Type:     models.PostTypeText,
		AuthorID: authorID,
	}
	require.NoError(t, db.Create(&post).Error, "create post %s", title)
	return post
}

// CreateComment inserts a comment with an explicit creation time so ordering
// tests do not depend on wall-clock resolution.
func CreateComment(t *testing.T, db *gorm.DB, postID, authorID int, parentID *int, at time.Time) models.Comment {
	t.Helper()
	comment := models.Comment{
		Body:            fmt.Sprintf("comment at %s", at.Format(time.RFC3339Nano)),
		PostID:          postID,
		AuthorID:        authorID,
		ParentCommentID: parentID,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	require.NoError(t, db.Create(&comment).Error, "create comment")
	return comment
}

func CreatePoll(t *testing.T, db *gorm.DB, authorID int, multiple bool, expiresAt *time.Time, options ...string) models.Poll {
	t.Helper()
	post := models.Post{
		Title:    "poll",
		Category: models.CategoryGeneral,
		Type:     models.PostTypePoll,
		AuthorID: authorID,
	}
	require.NoError(t, db.Create(&post).Error, "create poll post")

	poll := models.Poll{PostID: post.ID, MultipleChoice: multiple, ExpiresAt: expiresAt}
	for _, text := range options {
		poll.Options = append(poll.Options, models.PollOption{Text: text})
	}
	require.NoError(t, db.Create(&poll).Error, "create poll")
	return poll
}

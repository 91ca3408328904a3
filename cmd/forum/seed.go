package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/emilythestrangee/forum/backend/internal/comments"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/polls"
	"github.com/emilythestrangee/forum/backend/internal/posts"
)

const seedPassword = "123@Senha"

var seedUsers = []models.RegisterRequest{
	{FirstName: "Alice", LastName: "Anderson", Username: "alice", Email: "alice@example.com"},
	{FirstName: "Bob", LastName: "Brown", Username: "bob", Email: "bob@example.com"},
	{FirstName: "Carol", LastName: "Clark", Username: "carol", Email: "carol@example.com"},
}

// seed wipes every table and recreates a small forum through the services,
// so counters and ledger rows stay consistent.
func seed(ctx context.Context, d *deps) error {
	if err := d.db.Migrate(ctx); err != nil {
		return err
	}

	err := d.db.GetDB().WithContext(ctx).Exec(`TRUNCATE users, posts, comments, polls, poll_options,
		post_votes, comment_votes, poll_votes RESTART IDENTITY CASCADE`).Error
	if err != nil {
		return fmt.Errorf("clean database: %w", err)
	}

	svc := d.services
	ids := make([]int, 0, len(seedUsers))
	for _, u := range seedUsers {
		u.Password = seedPassword
		resp, err := svc.Users.Register(ctx, u)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
		ids = append(ids, resp.User.ID)
	}
	alice, bob, carol := ids[0], ids[1], ids[2]

	welcome, err := svc.Posts.Create(ctx, posts.CreateInput{
		AuthorID: alice,
		Title:    "Welcome to the forum",
		Body:     "This is the first post in the seeded forum. Say hi!",
		Category: models.CategoryGeneral,
	})
	if err != nil {
		return fmt.Errorf("seed post: %w", err)
	}
	sports, err := svc.Posts.Create(ctx, posts.CreateInput{
		AuthorID: bob,
		Title:    "Sports discussion",
		Body:     "Who is your favorite player this season?",
		Category: models.CategorySports,
	})
	if err != nil {
		return fmt.Errorf("seed post: %w", err)
	}
	poll, err := svc.Polls.Create(ctx, polls.CreateInput{
		AuthorID: carol,
		Title:    "Favorite programming language",
		Body:     "Vote for your favorite language",
		Category: models.CategoryGeneral,
		Options:  []string{"Go", "Python", "TypeScript"},
	})
	if err != nil {
		return fmt.Errorf("seed poll: %w", err)
	}

	hello, err := svc.Comments.Create(ctx, comments.CreateInput{
		PostID: welcome.ID, AuthorID: bob, Body: "Nice to meet you all!",
	})
	if err != nil {
		return fmt.Errorf("seed comment: %w", err)
	}
	if _, err := svc.Comments.Reply(ctx, hello.ID, carol,
		"Welcome Alice! Looking forward to great discussions."); err != nil {
		return fmt.Errorf("seed reply: %w", err)
	}
	if _, err := svc.Comments.Create(ctx, comments.CreateInput{
		PostID: sports.ID, AuthorID: alice, Body: "I like watching matches on weekends.",
	}); err != nil {
		return fmt.Errorf("seed comment: %w", err)
	}

	votes := []struct {
		post  int
		actor int
	}{
		{welcome.ID, bob},
		{welcome.ID, carol},
		{sports.ID, alice},
	}
	for _, v := range votes {
		if _, err := svc.Posts.Upvote(ctx, v.post, &v.actor); err != nil {
			return fmt.Errorf("seed post vote: %w", err)
		}
	}
	if _, err := svc.Comments.Upvote(ctx, hello.ID, &alice); err != nil {
		return fmt.Errorf("seed comment vote: %w", err)
	}
	if _, err := svc.Polls.Vote(ctx, poll.ID, alice, []int{poll.Options[0].ID}); err != nil {
		return fmt.Errorf("seed poll vote: %w", err)
	}

	d.logger.Info("Seed completed",
		zap.Int("users", len(ids)),
		zap.Int("posts", 3),
		zap.Int("poll_id", poll.ID))
	return nil
}

// Package comments stores threaded comments and assembles reply trees.
package comments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emilythestrangee/forum/backend/internal/apperr"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/votes"
)

type Service struct {
	db     *gorm.DB
	ledger *votes.Ledger[models.Comment]
	logger *zap.Logger
}

func NewService(db *gorm.DB, ledger *votes.Ledger[models.Comment], logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, ledger: ledger, logger: logger.Named("comments")}
}

type CreateInput struct {
	PostID          int
	AuthorID        int
	Body            string
	ParentCommentID *int
}

// Create adds a comment to a post. A parent, when given, must exist and
// belong to the same post.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Comment, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, apperr.InvalidInput("comment body is required")
	}

	comment := models.Comment{
		Body:            body,
		PostID:          in.PostID,
		AuthorID:        in.AuthorID,
		ParentCommentID: in.ParentCommentID,
	}

	// The shared locks keep a concurrent post or comment delete from
	// collecting its cascade before this insert commits.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).Select("id").Take(&post, in.PostID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("post not found")
		}
		if err != nil {
			return fmt.Errorf("load post %d: %w", in.PostID, err)
		}

		if in.ParentCommentID != nil {
			var parent models.Comment
			err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
				Select("id", "post_id").
				Take(&parent, *in.ParentCommentID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("parent comment not found")
			}
			if err != nil {
				return fmt.Errorf("load comment %d: %w", *in.ParentCommentID, err)
			}
			if parent.PostID != in.PostID {
				return apperr.InvalidInput("parent comment does not belong to this post")
			}
		}

		if err := tx.Create(&comment).Error; err != nil {
			if apperr.IsForeignKeyViolation(err) {
				return apperr.NotFound("post or parent comment no longer exists")
			}
			return fmt.Errorf("create comment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Comment created",
		zap.Int("comment_id", comment.ID),
		zap.Int("post_id", comment.PostID),
		zap.Int("author_id", comment.AuthorID))

	return s.withAuthor(ctx, comment.ID)
}

// Reply creates a comment under parentID on the parent's post.
func (s *Service) Reply(ctx context.Context, parentID, actorID int, body string) (*models.Comment, error) {
	parent, err := s.find(ctx, parentID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("parent comment not found")
		}
		return nil, err
	}

	return s.Create(ctx, CreateInput{
		PostID:          parent.PostID,
		AuthorID:        actorID,
		Body:            body,
		ParentCommentID: &parent.ID,
	})
}

// GetByID returns a comment with its post summary and direct replies,
// annotated with the actor's votes.
func (s *Service) GetByID(ctx context.Context, id int, actorID *int) (*models.CommentDetail, error) {
	comment, err := s.withAuthor(ctx, id)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)

	var post models.PostSummary
	err = db.Model(&models.Post{}).
		Select("id, title").
		Where("id = ?", comment.PostID).
		Take(&post).Error
	if err != nil {
		return nil, fmt.Errorf("load post %d: %w", comment.PostID, err)
	}

	var replies []models.Comment
	err = db.Preload("User").
		Where("parent_comment_id = ?", id).
		Order("created_at ASC, id ASC").
		Find(&replies).Error
	if err != nil {
		return nil, fmt.Errorf("load replies: %w", err)
	}

	ids := make([]int, 0, len(replies)+1)
	ids = append(ids, comment.ID)
	for _, r := range replies {
		ids = append(ids, r.ID)
	}
	flags, err := s.ledger.Flags(ctx, actorID, ids)
	if err != nil {
		return nil, err
	}

	detail := &models.CommentDetail{
		ID:              comment.ID,
		PostID:          comment.PostID,
		ParentCommentID: comment.ParentCommentID,
		Body:            comment.Body,
		Author:          comment.User.Author(),
		Post:            post,
		Upvotes:         comment.Upvotes,
		Downvotes:       comment.Downvotes,
		CreatedAt:       comment.CreatedAt,
		UpdatedAt:       comment.UpdatedAt,
		Replies:         make([]models.ReplySummary, 0, len(replies)),
		VoteFlags:       models.FlagsFor(flags[comment.ID]),
	}
	for _, r := range replies {
		detail.Replies = append(detail.Replies, models.ReplySummary{
			ID:        r.ID,
			Body:      r.Body,
			Author:    r.User.Author(),
			Upvotes:   r.Upvotes,
			Downvotes: r.Downvotes,
			CreatedAt: r.CreatedAt,
			VoteFlags: models.FlagsFor(flags[r.ID]),
		})
	}
	return detail, nil
}

// Update edits a comment owned by actorID.
func (s *Service) Update(ctx context.Context, id, actorID int, upd models.CommentUpdate) (*models.Comment, error) {
	comment, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if comment.AuthorID != actorID {
		return nil, apperr.Forbidden("you can only update your own comments")
	}

	if upd.Body != nil {
		body := strings.TrimSpace(*upd.Body)
		if body == "" {
			return nil, apperr.InvalidInput("comment body cannot be empty")
		}
		err := s.db.WithContext(ctx).
			Model(comment).
			Update("body", body).Error
		if err != nil {
			return nil, fmt.Errorf("update comment %d: %w", id, err)
		}
	}

	return s.withAuthor(ctx, id)
}

// Delete removes a comment owned by actorID together with every reply below
// it and the votes cast on them.
func (s *Service) Delete(ctx context.Context, id, actorID int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var comment models.Comment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&comment, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("comment not found")
		}
		if err != nil {
			return fmt.Errorf("load comment %d: %w", id, err)
		}
		if comment.AuthorID != actorID {
			return apperr.Forbidden("you can only delete your own comments")
		}

		subtree, err := Subtree(tx, []int{id})
		if err != nil {
			return err
		}
		return DeleteIDs(tx, subtree)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Comment deleted", zap.Int("comment_id", id), zap.Int("author_id", actorID))
	return nil
}

// Subtree returns rootIDs and the ids of every comment below them.
func Subtree(tx *gorm.DB, rootIDs []int) ([]int, error) {
	all := append([]int(nil), rootIDs...)
	frontier := rootIDs
	for len(frontier) > 0 {
		var next []int
		err := tx.Model(&models.Comment{}).
			Where("parent_comment_id IN ?", frontier).
			Pluck("id", &next).Error
		if err != nil {
			return nil, fmt.Errorf("collect replies: %w", err)
		}
		all = append(all, next...)
		frontier = next
	}
	return all, nil
}

// DeleteIDs removes the given comments and their votes. It must run inside a
// transaction.
func DeleteIDs(tx *gorm.DB, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Where("comment_id IN ?", ids).Delete(&models.CommentVote{}).Error; err != nil {
		return fmt.Errorf("delete comment votes: %w", err)
	}
	if err := tx.Where("id IN ?", ids).Delete(&models.Comment{}).Error; err != nil {
		return fmt.Errorf("delete comments: %w", err)
	}
	return nil
}

// ListByUser returns every comment written by userID, newest first.
func (s *Service) ListByUser(ctx context.Context, userID int) ([]models.Comment, error) {
	db := s.db.WithContext(ctx)

	var user models.User
	err := db.Select("id").Take(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	comments := []models.Comment{}
	err = db.Preload("User").
		Where("author_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("list comments of user %d: %w", userID, err)
	}
	return comments, nil
}

func (s *Service) Upvote(ctx context.Context, id int, actorID *int) (*models.Comment, error) {
	return s.ledger.Upvote(ctx, id, actorID)
}

func (s *Service) Downvote(ctx context.Context, id int, actorID *int) (*models.Comment, error) {
	return s.ledger.Downvote(ctx, id, actorID)
}

func (s *Service) RemoveUpvote(ctx context.Context, id, actorID int) (*models.Comment, error) {
	return s.ledger.RemoveUpvote(ctx, id, actorID)
}

func (s *Service) RemoveDownvote(ctx context.Context, id, actorID int) (*models.Comment, error) {
	return s.ledger.RemoveDownvote(ctx, id, actorID)
}

func (s *Service) find(ctx context.Context, id int) (*models.Comment, error) {
	var comment models.Comment
	err := s.db.WithContext(ctx).Take(&comment, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("comment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load comment %d: %w", id, err)
	}
	return &comment, nil
}

func (s *Service) withAuthor(ctx context.Context, id int) (*models.Comment, error) {
	var comment models.Comment
	err := s.db.WithContext(ctx).Preload("User").Take(&comment, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("comment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load comment %d: %w", id, err)
	}
	return &comment, nil
}

func (s *Service) requirePost(ctx context.Context, postID int) error {
	var post models.Post
	err := s.db.WithContext(ctx).Select("id").Take(&post, postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("post not found")
	}
	if err != nil {
		return fmt.Errorf("load post %d: %w", postID, err)
	}
	return nil
}

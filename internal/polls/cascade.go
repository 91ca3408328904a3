package polls

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emilythestrangee/forum/backend/internal/apperr"
	"github.com/emilythestrangee/forum/backend/internal/cache"
	"github.com/emilythestrangee/forum/backend/internal/comments"
	"github.com/emilythestrangee/forum/backend/internal/models"
)

// DeletePost removes a post and everything hanging off it: its poll with
// options and ballots, its comments with their votes, and its own votes.
// It must run inside a transaction. The post and its poll stay locked until
// commit, so ballots and comments cannot be added underneath the cascade.
//
// It returns the ids of the removed polls; pass them to ForgetResults once
// the transaction has committed.
func DeletePost(tx *gorm.DB, postID int) ([]int, error) {
	var post models.Post
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Take(&post, postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("post not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lock post %d: %w", postID, err)
	}

	var pollIDs []int
	err = tx.Model(&models.Poll{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("post_id = ?", postID).
		Pluck("id", &pollIDs).Error
	if err != nil {
		return nil, fmt.Errorf("lock poll of post %d: %w", postID, err)
	}
	if len(pollIDs) > 0 {
		if err := tx.Where("poll_id IN ?", pollIDs).Delete(&models.PollVote{}).Error; err != nil {
			return nil, fmt.Errorf("delete ballots: %w", err)
		}
		if err := tx.Where("poll_id IN ?", pollIDs).Delete(&models.PollOption{}).Error; err != nil {
			return nil, fmt.Errorf("delete poll options: %w", err)
		}
		if err := tx.Where("id IN ?", pollIDs).Delete(&models.Poll{}).Error; err != nil {
			return nil, fmt.Errorf("delete poll: %w", err)
		}
	}

	var commentIDs []int
	if err := tx.Model(&models.Comment{}).Where("post_id = ?", postID).Pluck("id", &commentIDs).Error; err != nil {
		return nil, fmt.Errorf("load comments of post %d: %w", postID, err)
	}
	if err := comments.DeleteIDs(tx, commentIDs); err != nil {
		return nil, err
	}

	if err := tx.Where("post_id = ?", postID).Delete(&models.PostVote{}).Error; err != nil {
		return nil, fmt.Errorf("delete post votes: %w", err)
	}
	if err := tx.Delete(&models.Post{}, postID).Error; err != nil {
		return nil, fmt.Errorf("delete post %d: %w", postID, err)
	}
	return pollIDs, nil
}

// ForgetResults drops the cached tallies of pollIDs. A failed delete is only
// logged: the entry still expires after resultsTTL.
func ForgetResults(ctx context.Context, store *cache.Store, logger *zap.Logger, pollIDs ...int) {
	if len(pollIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(pollIDs))
	for _, id := range pollIDs {
		keys = append(keys, resultsKey(id))
	}
	if err := store.Delete(ctx, keys...); err != nil {
		logger.Warn("Poll results cache invalidation failed", zap.Error(err), zap.Ints("poll_ids", pollIDs))
	}
}

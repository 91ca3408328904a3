// Package polls implements poll posts and their ballot tally.
package polls

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emilythestrangee/forum/backend/internal/apperr"
	"github.com/emilythestrangee/forum/backend/internal/cache"
	"github.com/emilythestrangee/forum/backend/internal/events"
	"github.com/emilythestrangee/forum/backend/internal/models"
)

const resultsTTL = 30 * time.Second

type Service struct {
	db        *gorm.DB
	cache     *cache.Store
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires the poll service. store may be nil, in which case results
// are always computed from the database.
func NewService(db *gorm.DB, store *cache.Store, publisher events.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:        db,
		cache:     store,
		publisher: publisher,
		logger:    logger.Named("polls"),
		now:       time.Now,
	}
}

type CreateInput struct {
	AuthorID       int
	Title          string
	Body           string
	Category       models.Category
	MultipleChoice bool
	ExpiresAt      *time.Time
	Options        []string
}

// Create stores a poll-type post, its poll and the options in one transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.PollView, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.InvalidInput("title is required")
	}
	category := in.Category
	if category == "" {
		category = models.CategoryGeneral
	}
	if !category.Valid() {
		return nil, apperr.InvalidInput(fmt.Sprintf("unknown category %q", category))
	}

	options := make([]models.PollOption, 0, len(in.Options))
	for _, text := range in.Options {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, apperr.InvalidInput("poll options cannot be empty")
		}
		options = append(options, models.PollOption{Text: text})
	}
	if len(options) < 2 {
		return nil, apperr.New(apperr.KindInvalidInput, apperr.ReasonMinimumOptions,
			"a poll needs at least 2 options")
	}

	var pollID int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post := models.Post{
			Title:    title,
			Body:     in.Body,
			Category: category,
			Type:     models.PostTypePoll,
			AuthorID: in.AuthorID,
		}
		if err := tx.Create(&post).Error; err != nil {
			return fmt.Errorf("create poll post: %w", err)
		}

		poll := models.Poll{
			PostID:         post.ID,
			MultipleChoice: in.MultipleChoice,
			ExpiresAt:      in.ExpiresAt,
			Options:        options,
		}
		if err := tx.Create(&poll).Error; err != nil {
			return fmt.Errorf("create poll: %w", err)
		}
		pollID = poll.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Poll created",
		zap.Int("poll_id", pollID),
		zap.Int("author_id", in.AuthorID),
		zap.Int("options", len(options)))

	return s.Get(ctx, pollID)
}

// Get returns a poll with its options and the post that carries it.
func (s *Service) Get(ctx context.Context, id int) (*models.PollView, error) {
	db := s.db.WithContext(ctx)

	var poll models.Poll
	err := db.Preload("Options", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Take(&poll, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("poll not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load poll %d: %w", id, err)
	}

	var post models.Post
	if err := db.Preload("User").Take(&post, poll.PostID).Error; err != nil {
		return nil, fmt.Errorf("load poll post %d: %w", poll.PostID, err)
	}

	return &models.PollView{
		Poll:     poll,
		Title:    post.Title,
		Body:     post.Body,
		Category: post.Category,
		Author:   post.User.Author(),
	}, nil
}

// Update changes the settings of an open poll owned by actorID.
func (s *Service) Update(ctx context.Context, id, actorID int, upd models.PollUpdate) (*models.PollView, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, err := lockPoll(tx, id)
		if err != nil {
			return err
		}
		if err := requireOwner(tx, poll, actorID); err != nil {
			return err
		}
		if poll.Expired(s.now()) {
			return apperr.Conflict(apperr.ReasonExpired, "cannot edit an expired poll")
		}

		changes := map[string]any{}
		if upd.MultipleChoice != nil {
			changes["multiple_choice"] = *upd.MultipleChoice
		}
		if upd.ExpiresAt != nil {
			changes["expires_at"] = *upd.ExpiresAt
		}
		if len(changes) == 0 {
			return nil
		}
		if err := tx.Model(poll).Updates(changes).Error; err != nil {
			return fmt.Errorf("update poll %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a poll owned by actorID along with its post.
func (s *Service) Delete(ctx context.Context, id, actorID int) error {
	var removed []int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock order is post then poll, taken by DeletePost.
		poll, err := findPoll(tx, id)
		if err != nil {
			return err
		}
		if err := requireOwner(tx, poll, actorID); err != nil {
			return err
		}
		removed, err = DeletePost(tx, poll.PostID)
		if apperr.IsKind(err, apperr.KindNotFound) {
			return apperr.NotFound("poll not found")
		}
		return err
	})
	if err != nil {
		return err
	}

	ForgetResults(ctx, s.cache, s.logger, removed...)
	s.logger.Info("Poll deleted", zap.Int("poll_id", id), zap.Int("author_id", actorID))
	return nil
}

// Vote records actorID's ballot and returns the updated results.
//
// On a single-choice poll any earlier choice is withdrawn before the new one
// is recorded. On a multiple-choice poll options already chosen are left as
// they are and only new rows move a counter.
func (s *Service) Vote(ctx context.Context, pollID, actorID int, optionIDs []int) (*models.PollResults, error) {
	if len(optionIDs) == 0 {
		return nil, apperr.InvalidInput("at least one option must be selected")
	}
	ballot := dedupe(optionIDs)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, err := lockPoll(tx, pollID)
		if err != nil {
			return err
		}
		if poll.Expired(s.now()) {
			return apperr.Conflict(apperr.ReasonExpired, "poll has expired")
		}
		if !poll.MultipleChoice && len(optionIDs) > 1 {
			return apperr.InvalidInput("multiple choice not allowed for this poll")
		}

		var valid []int
		err = tx.Model(&models.PollOption{}).
			Where("poll_id = ?", pollID).
			Pluck("id", &valid).Error
		if err != nil {
			return fmt.Errorf("load poll options: %w", err)
		}
		for _, id := range ballot {
			if !slices.Contains(valid, id) {
				return apperr.InvalidInput(fmt.Sprintf("option %d does not belong to this poll", id))
			}
		}

		if !poll.MultipleChoice {
			if err := withdrawOthers(tx, pollID, actorID, ballot[0]); err != nil {
				return err
			}
		}

		for _, optionID := range ballot {
			if err := s.record(tx, pollID, actorID, optionID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, pollID)
	results, err := s.Results(ctx, pollID)
	if err != nil {
		return nil, err
	}

	perr := s.publisher.Publish(ctx, events.SubjectPollVotes, events.PollVoteEvent{
		PollID:     pollID,
		UserID:     actorID,
		OptionIDs:  ballot,
		TotalVotes: results.TotalVotes,
		Timestamp:  s.now().UTC(),
	})
	if perr != nil {
		s.logger.Warn("Failed to publish poll vote event", zap.Error(perr), zap.Int("poll_id", pollID))
	}

	return results, nil
}

// withdrawOthers deletes actorID's ballots on every option of the poll except
// keep and gives the votes back.
func withdrawOthers(tx *gorm.DB, pollID, actorID, keep int) error {
	var stale []int
	err := tx.Model(&models.PollVote{}).
		Where("user_id = ? AND poll_id = ? AND option_id <> ?", actorID, pollID, keep).
		Pluck("option_id", &stale).Error
	if err != nil {
		return fmt.Errorf("load previous ballots: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	err = tx.Where("user_id = ? AND option_id IN ?", actorID, stale).
		Delete(&models.PollVote{}).Error
	if err != nil {
		return fmt.Errorf("delete previous ballots: %w", err)
	}
	err = tx.Model(&models.PollOption{}).
		Where("id IN ?", stale).
		UpdateColumn("vote_count", gorm.Expr("vote_count - 1")).Error
	if err != nil {
		return fmt.Errorf("decrement option counters: %w", err)
	}
	return nil
}

func (s *Service) record(tx *gorm.DB, pollID, actorID, optionID int) error {
	vote := models.PollVote{UserID: actorID, OptionID: optionID, PollID: pollID, VotedAt: s.now()}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&vote)
	if res.Error != nil {
		return fmt.Errorf("insert ballot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	err := tx.Model(&models.PollOption{}).
		Where("id = ?", optionID).
		UpdateColumn("vote_count", gorm.Expr("vote_count + 1")).Error
	if err != nil {
		return fmt.Errorf("increment option %d: %w", optionID, err)
	}
	return nil
}

// Results returns the tally of a poll. Results are served from the cache for
// a short while when one is configured.
func (s *Service) Results(ctx context.Context, pollID int) (*models.PollResults, error) {
	key := resultsKey(pollID)

	var cached models.PollResults
	hit, err := s.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("Poll results cache read failed", zap.Error(err), zap.Int("poll_id", pollID))
	}
	if hit {
		return &cached, nil
	}

	var poll models.Poll
	err = s.db.WithContext(ctx).Preload("Options", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Take(&poll, pollID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("poll not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load poll %d: %w", pollID, err)
	}

	results := Tally(poll)
	if err := s.cache.SetJSON(ctx, key, results, resultsTTL); err != nil {
		s.logger.Warn("Poll results cache write failed", zap.Error(err), zap.Int("poll_id", pollID))
	}
	return &results, nil
}

// Tally computes results from the stored option counters.
func Tally(poll models.Poll) models.PollResults {
	total := 0
	for _, o := range poll.Options {
		total += o.VoteCount
	}

	out := models.PollResults{
		PollID:     poll.ID,
		TotalVotes: total,
		Options:    make([]models.OptionResult, 0, len(poll.Options)),
	}
	for _, o := range poll.Options {
		pct := 0.0
		if total > 0 {
			pct = float64(o.VoteCount) / float64(total) * 100
		}
		out.Options = append(out.Options, models.OptionResult{
			ID:         o.ID,
			Text:       o.Text,
			Votes:      o.VoteCount,
			Percentage: pct,
		})
	}
	return out
}

// Options lists the options of a poll in creation order.
func (s *Service) Options(ctx context.Context, pollID int) ([]models.PollOption, error) {
	db := s.db.WithContext(ctx)
	if _, err := findPoll(db, pollID); err != nil {
		return nil, err
	}

	options := []models.PollOption{}
	if err := db.Where("poll_id = ?", pollID).Order("id ASC").Find(&options).Error; err != nil {
		return nil, fmt.Errorf("load poll options: %w", err)
	}
	return options, nil
}

// UpdateOption renames an option of a poll owned by actorID.
func (s *Service) UpdateOption(ctx context.Context, pollID, optionID, actorID int, text string) (*models.PollOption, error) {
	text = strings.TrimSpace(text)

	var option models.PollOption
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, err := lockPoll(tx, pollID)
		if err != nil {
			return err
		}
		if err := requireOwner(tx, poll, actorID); err != nil {
			return err
		}
		if text == "" {
			return apperr.InvalidInput("option text cannot be empty")
		}

		err = tx.Where("id = ? AND poll_id = ?", optionID, pollID).Take(&option).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("option not found in this poll")
		}
		if err != nil {
			return fmt.Errorf("load option %d: %w", optionID, err)
		}

		if err := tx.Model(&option).Update("text", text).Error; err != nil {
			return fmt.Errorf("update option %d: %w", optionID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, pollID)
	return &option, nil
}

// DeleteOption removes an option and its ballots. A poll never drops below
// two options.
func (s *Service) DeleteOption(ctx context.Context, pollID, optionID, actorID int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, err := lockPoll(tx, pollID)
		if err != nil {
			return err
		}
		if err := requireOwner(tx, poll, actorID); err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.PollOption{}).Where("poll_id = ?", pollID).Count(&count).Error; err != nil {
			return fmt.Errorf("count poll options: %w", err)
		}
		if count <= 2 {
			return apperr.Conflict(apperr.ReasonMinimumOptions, "poll must have at least 2 options")
		}

		var option models.PollOption
		err = tx.Select("id").Where("id = ? AND poll_id = ?", optionID, pollID).Take(&option).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("option not found in this poll")
		}
		if err != nil {
			return fmt.Errorf("load option %d: %w", optionID, err)
		}

		if err := tx.Where("option_id = ?", optionID).Delete(&models.PollVote{}).Error; err != nil {
			return fmt.Errorf("delete option ballots: %w", err)
		}
		if err := tx.Delete(&models.PollOption{}, optionID).Error; err != nil {
			return fmt.Errorf("delete option %d: %w", optionID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, pollID)
	s.logger.Info("Poll option deleted", zap.Int("poll_id", pollID), zap.Int("option_id", optionID))
	return nil
}

func (s *Service) invalidate(ctx context.Context, pollID int) {
	ForgetResults(ctx, s.cache, s.logger, pollID)
}

func resultsKey(pollID int) string {
	return fmt.Sprintf("poll:%d:results", pollID)
}

func findPoll(db *gorm.DB, id int) (*models.Poll, error) {
	var poll models.Poll
	err := db.Take(&poll, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("poll not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load poll %d: %w", id, err)
	}
	return &poll, nil
}

// lockPoll loads a poll and holds its row lock until the transaction ends.
func lockPoll(tx *gorm.DB, id int) (*models.Poll, error) {
	return findPoll(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func requireOwner(tx *gorm.DB, poll *models.Poll, actorID int) error {
	var post models.Post
	if err := tx.Select("id", "author_id").Take(&post, poll.PostID).Error; err != nil {
		return fmt.Errorf("load poll post %d: %w", poll.PostID, err)
	}
	if post.AuthorID != actorID {
		return apperr.Forbidden("only the poll author can change it")
	}
	return nil
}

func dedupe(ids []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Package votes implements the vote ledger for posts and comments: one
// upvote or downvote row per (user, target), kept consistent with the
// target's denormalised upvotes/downvotes counters.
package votes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emilythestrangee/forum/backend/internal/apperr"
	"github.com/emilythestrangee/forum/backend/internal/events"
	"github.com/emilythestrangee/forum/backend/internal/models"
)

type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
)

// Target is an entity that carries vote counters.
type Target interface {
	models.Post | models.Comment
	Counts() (upvotes, downvotes int)
}

type Options struct {
	// AllowAnonymous lets callers without an actor bump counters directly.
	AllowAnonymous bool
	Publisher      events.Publisher
	Logger         *zap.Logger
}

type table struct {
	kind    Kind
	name    string
	column  string
	subject string
	row     func(userID, targetID int, dir models.VoteType, at time.Time) any
	model   func() any
}

var (
	postVotes = table{
		kind:    KindPost,
		name:    "post_votes",
		column:  "post_id",
		subject: events.SubjectPostVotes,
		row: func(userID, targetID int, dir models.VoteType, at time.Time) any {
			return &models.PostVote{UserID: userID, PostID: targetID, VoteType: dir, CreatedAt: at}
		},
		model: func() any { return &models.PostVote{} },
	}
	commentVotes = table{
		kind:    KindComment,
		name:    "comment_votes",
		column:  "comment_id",
		subject: events.SubjectCommentVotes,
		row: func(userID, targetID int, dir models.VoteType, at time.Time) any {
			return &models.CommentVote{UserID: userID, CommentID: targetID, VoteType: dir, CreatedAt: at}
		},
		model: func() any { return &models.CommentVote{} },
	}
)

type Ledger[T Target] struct {
	db             *gorm.DB
	votes          table
	allowAnonymous bool
	publisher      events.Publisher
	logger         *zap.Logger
	now            func() time.Time
}

func NewPostLedger(db *gorm.DB, opts Options) *Ledger[models.Post] {
	return newLedger[models.Post](db, postVotes, opts)
}

func NewCommentLedger(db *gorm.DB, opts Options) *Ledger[models.Comment] {
	return newLedger[models.Comment](db, commentVotes, opts)
}

func newLedger[T Target](db *gorm.DB, votes table, opts Options) *Ledger[T] {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ledger[T]{
		db:             db,
		votes:          votes,
		allowAnonymous: opts.AllowAnonymous,
		publisher:      publisher,
		logger:         logger.Named(string(votes.kind) + "_ledger"),
		now:            time.Now,
	}
}

// Kind names the vote targets this ledger tracks.
func (l *Ledger[T]) Kind() Kind {
	return l.votes.kind
}

// Upvote records an upvote by actorID (or an anonymous one when actorID is
// nil and anonymous votes are allowed) and returns the refreshed target.
func (l *Ledger[T]) Upvote(ctx context.Context, targetID int, actorID *int) (*T, error) {
	return l.cast(ctx, targetID, actorID, models.Upvote)
}

func (l *Ledger[T]) Downvote(ctx context.Context, targetID int, actorID *int) (*T, error) {
	return l.cast(ctx, targetID, actorID, models.Downvote)
}

func (l *Ledger[T]) RemoveUpvote(ctx context.Context, targetID, actorID int) (*T, error) {
	return l.remove(ctx, targetID, actorID, models.Upvote)
}

func (l *Ledger[T]) RemoveDownvote(ctx context.Context, targetID, actorID int) (*T, error) {
	return l.remove(ctx, targetID, actorID, models.Downvote)
}

func (l *Ledger[T]) cast(ctx context.Context, targetID int, actorID *int, dir models.VoteType) (*T, error) {
	if actorID == nil && !l.allowAnonymous {
		return nil, apperr.Unauthorized("authentication required to vote")
	}

	var target T
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.lockTarget(tx, targetID); err != nil {
			return err
		}

		if actorID != nil {
			existing, err := l.find(tx, *actorID, targetID)
			if err != nil {
				return err
			}
			if existing != nil {
				switch *existing {
				case dir:
					return apperr.Conflict(apperr.ReasonAlreadyVoted,
						fmt.Sprintf("user has already %sd this %s", dir, l.votes.kind))
				case dir.Opposite():
					return apperr.Conflict(apperr.ReasonOppositeVoteExists,
						fmt.Sprintf("cannot %s a %s you have already %sd; remove your %s first",
							dir, l.votes.kind, *existing, *existing))
				default:
					return fmt.Errorf("unknown vote type %q in %s", *existing, l.votes.name)
				}
			}

			if err := tx.Create(l.votes.row(*actorID, targetID, dir, l.now())).Error; err != nil {
				if apperr.IsUniqueViolation(err) {
					return apperr.Conflict(apperr.ReasonAlreadyVoted,
						fmt.Sprintf("user has already voted on this %s", l.votes.kind))
				}
				return fmt.Errorf("insert %s: %w", l.votes.name, err)
			}
		}

		if err := l.adjust(tx, targetID, dir, 1); err != nil {
			return err
		}
		return l.reload(tx, targetID, &target)
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, targetID, actorID, string(dir), target)
	return &target, nil
}

func (l *Ledger[T]) remove(ctx context.Context, targetID, actorID int, dir models.VoteType) (*T, error) {
	var target T
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.lockTarget(tx, targetID); err != nil {
			return err
		}

		existing, err := l.find(tx, actorID, targetID)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperr.NotFoundReason(apperr.ReasonNoVote,
				fmt.Sprintf("no vote found for this %s", l.votes.kind))
		}
		if *existing != dir {
			return apperr.Conflict(apperr.ReasonWrongDirection,
				fmt.Sprintf("user has not %sd this %s", dir, l.votes.kind))
		}

		res := tx.Where("user_id = ? AND "+l.votes.column+" = ?", actorID, targetID).
			Delete(l.votes.model())
		if res.Error != nil {
			return fmt.Errorf("delete %s: %w", l.votes.name, res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("delete %s: expected 1 row, removed %d", l.votes.name, res.RowsAffected)
		}

		if err := l.adjust(tx, targetID, dir, -1); err != nil {
			return err
		}
		return l.reload(tx, targetID, &target)
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, targetID, &actorID, "remove_"+string(dir), target)
	return &target, nil
}

// VoteOf returns actorID's vote on each of targetIDs in one query. Targets
// without a ledger row are absent from the map.
func (l *Ledger[T]) VoteOf(ctx context.Context, actorID int, targetIDs []int) (map[int]models.VoteType, error) {
	out := make(map[int]models.VoteType, len(targetIDs))
	if len(targetIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		TargetID int
		VoteType models.VoteType
	}
	err := l.db.WithContext(ctx).
		Table(l.votes.name).
		Select(l.votes.column+" AS target_id, vote_type").
		Where("user_id = ? AND "+l.votes.column+" IN ?", actorID, targetIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", l.votes.name, err)
	}

	for _, r := range rows {
		out[r.TargetID] = r.VoteType
	}
	return out, nil
}

// Flags is VoteOf for an optional actor; anonymous readers get an empty map.
func (l *Ledger[T]) Flags(ctx context.Context, actorID *int, targetIDs []int) (map[int]models.VoteType, error) {
	if actorID == nil {
		return map[int]models.VoteType{}, nil
	}
	return l.VoteOf(ctx, *actorID, targetIDs)
}

// lockTarget takes a row lock on the target so concurrent votes on it
// serialise for the rest of the transaction.
func (l *Ledger[T]) lockTarget(tx *gorm.DB, targetID int) error {
	var locked T
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Take(&locked, targetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(fmt.Sprintf("%s not found", l.votes.kind))
	}
	if err != nil {
		return fmt.Errorf("lock %s %d: %w", l.votes.kind, targetID, err)
	}
	return nil
}

func (l *Ledger[T]) find(tx *gorm.DB, actorID, targetID int) (*models.VoteType, error) {
	var row struct {
		VoteType models.VoteType
	}
	err := tx.Table(l.votes.name).
		Select("vote_type").
		Where("user_id = ? AND "+l.votes.column+" = ?", actorID, targetID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", l.votes.name, err)
	}
	return &row.VoteType, nil
}

func (l *Ledger[T]) adjust(tx *gorm.DB, targetID int, dir models.VoteType, delta int) error {
	col := dir.Counter()
	res := tx.Model(new(T)).
		Where("id = ?", targetID).
		UpdateColumn(col, gorm.Expr(col+" + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("update %s %s: %w", l.votes.kind, col, res.Error)
	}
	return nil
}

func (l *Ledger[T]) reload(tx *gorm.DB, targetID int, target *T) error {
	if err := tx.Preload("User").Take(target, targetID).Error; err != nil {
		return fmt.Errorf("reload %s %d: %w", l.votes.kind, targetID, err)
	}
	return nil
}

func (l *Ledger[T]) publish(ctx context.Context, targetID int, actorID *int, action string, target T) {
	up, down := target.Counts()
	err := l.publisher.Publish(ctx, l.votes.subject, events.VoteEvent{
		Kind:      string(l.Kind()),
		TargetID:  targetID,
		UserID:    actorID,
		Action:    action,
		Upvotes:   up,
		Downvotes: down,
		Timestamp: l.now().UTC(),
	})
	if err != nil {
		l.logger.Warn("Failed to publish vote event",
			zap.Error(err),
			zap.Int("target_id", targetID),
			zap.String("action", action))
	}
}

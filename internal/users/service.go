// Package users handles registration, login and profiles.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emilythestrangee/forum/backend/internal/apperr"
	"github.com/emilythestrangee/forum/backend/internal/auth"
	"github.com/emilythestrangee/forum/backend/internal/cache"
	"github.com/emilythestrangee/forum/backend/internal/comments"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/polls"
)

var errInvalidCredentials = apperr.Unauthorized("invalid credentials")

type Service struct {
	db     *gorm.DB
	issuer *auth.Issuer
	cache  *cache.Store
	logger *zap.Logger
}

// NewService wires the user service. store is the poll results cache and may
// be nil.
func NewService(db *gorm.DB, issuer *auth.Issuer, store *cache.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, issuer: issuer, cache: store, logger: logger.Named("users")}
}

// Register creates an account and returns a token for it.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" || email == "" {
		return nil, apperr.InvalidInput("username and email are required")
	}
	if len(req.Password) < 6 {
		return nil, apperr.InvalidInput("password must be at least 6 characters")
	}

	db := s.db.WithContext(ctx)

	var existing int64
	err := db.Model(&models.User{}).
		Where("username = ? OR email = ?", username, email).
		Count(&existing).Error
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if existing > 0 {
		return nil, apperr.Conflict(apperr.ReasonDuplicate, "username or email already exists")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
	}
	if err := db.Create(&user).Error; err != nil {
		if apperr.IsUniqueViolation(err) {
			return nil, apperr.Conflict(apperr.ReasonDuplicate, "username or email already exists")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("User registered", zap.Int("user_id", user.ID), zap.String("username", user.Username))
	return s.respond(user)
}

// Login accepts either the username or the email address as identifier.
func (s *Service) Login(ctx context.Context, identifier, password string) (*models.AuthResponse, error) {
	identifier = strings.TrimSpace(identifier)

	var user models.User
	err := s.db.WithContext(ctx).
		Where("username = ? OR email = ?", identifier, strings.ToLower(identifier)).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	ok, err := auth.CheckPassword(user.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errInvalidCredentials
	}

	return s.respond(user)
}

func (s *Service) respond(user models.User) (*models.AuthResponse, error) {
	token, err := s.issuer.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &models.AuthResponse{Token: token, User: user}, nil
}

// Me returns the full account of the authenticated user.
func (s *Service) Me(ctx context.Context, id int) (*models.User, error) {
	return s.find(ctx, id)
}

// GetByID returns a public profile with post and comment counts.
func (s *Service) GetByID(ctx context.Context, id int) (*models.UserProfile, error) {
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Email = ""

	profile := &models.UserProfile{User: *user}
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Post{}).Where("author_id = ?", id).Count(&profile.PostCount).Error; err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	if err := db.Model(&models.Comment{}).Where("author_id = ?", id).Count(&profile.CommentCount).Error; err != nil {
		return nil, fmt.Errorf("count comments: %w", err)
	}
	return profile, nil
}

// List returns every user without email addresses.
func (s *Service) List(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	err := s.db.WithContext(ctx).
		Omit("email", "password_hash").
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Update changes the profile of actorID, who must be the user being updated.
func (s *Service) Update(ctx context.Context, id, actorID int, upd models.UserUpdate) (*models.User, error) {
	if id != actorID {
		return nil, apperr.Forbidden("you can only update your own profile")
	}
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if upd.FirstName != nil {
		changes["first_name"] = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		changes["last_name"] = strings.TrimSpace(*upd.LastName)
	}
	if upd.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*upd.Email))
		if email == "" {
			return nil, apperr.InvalidInput("email cannot be empty")
		}
		changes["email"] = email
	}

	if len(changes) > 0 {
		err := s.db.WithContext(ctx).Model(user).Updates(changes).Error
		if apperr.IsUniqueViolation(err) {
			return nil, apperr.Conflict(apperr.ReasonDuplicate, "email already in use")
		}
		if err != nil {
			return nil, fmt.Errorf("update user %d: %w", id, err)
		}
	}
	return s.find(ctx, id)
}

// Delete removes the account of actorID with everything it authored. Votes
// the user cast are withdrawn so the remaining counters stay in step with the
// ledger.
func (s *Service) Delete(ctx context.Context, id, actorID int) error {
	if id != actorID {
		return apperr.Forbidden("you can only delete your own account")
	}

	// Polls whose tally changed or which were removed.
	var touched []int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Take(&user, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("user not found")
		}
		if err != nil {
			return fmt.Errorf("load user %d: %w", id, err)
		}

		touched, err = withdrawVotes(tx, id)
		if err != nil {
			return err
		}

		var postIDs []int
		if err := tx.Model(&models.Post{}).Where("author_id = ?", id).Pluck("id", &postIDs).Error; err != nil {
			return fmt.Errorf("load posts: %w", err)
		}
		for _, postID := range postIDs {
			removed, err := polls.DeletePost(tx, postID)
			if err != nil {
				return err
			}
			touched = append(touched, removed...)
		}

		var commentIDs []int
		if err := tx.Model(&models.Comment{}).Where("author_id = ?", id).Pluck("id", &commentIDs).Error; err != nil {
			return fmt.Errorf("load comments: %w", err)
		}
		subtree, err := comments.Subtree(tx, commentIDs)
		if err != nil {
			return err
		}
		if err := comments.DeleteIDs(tx, subtree); err != nil {
			return err
		}

		if err := tx.Delete(&models.User{}, id).Error; err != nil {
			return fmt.Errorf("delete user %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	polls.ForgetResults(ctx, s.cache, s.logger, touched...)
	s.logger.Info("User deleted", zap.Int("user_id", id))
	return nil
}

// withdrawVotes takes back every vote and ballot cast by userID and returns
// the polls whose tally changed.
func withdrawVotes(tx *gorm.DB, userID int) ([]int, error) {
	type ledger struct {
		target any
		rows   any
		column string
	}
	for _, l := range []ledger{
		{&models.Post{}, &models.PostVote{}, "post_id"},
		{&models.Comment{}, &models.CommentVote{}, "comment_id"},
	} {
		for _, dir := range []models.VoteType{models.Upvote, models.Downvote} {
			voted := tx.Model(l.rows).Select(l.column).Where("user_id = ? AND vote_type = ?", userID, dir)
			err := tx.Model(l.target).
				Where("id IN (?)", voted).
				UpdateColumn(dir.Counter(), gorm.Expr(dir.Counter()+" - 1")).Error
			if err != nil {
				return nil, fmt.Errorf("withdraw %s: %w", dir, err)
			}
		}
		if err := tx.Where("user_id = ?", userID).Delete(l.rows).Error; err != nil {
			return nil, fmt.Errorf("delete votes: %w", err)
		}
	}

	var pollIDs []int
	err := tx.Model(&models.PollVote{}).
		Distinct("poll_id").
		Where("user_id = ?", userID).
		Pluck("poll_id", &pollIDs).Error
	if err != nil {
		return nil, fmt.Errorf("load ballots: %w", err)
	}

	ballots := tx.Model(&models.PollVote{}).Select("option_id").Where("user_id = ?", userID)
	err = tx.Model(&models.PollOption{}).
		Where("id IN (?)", ballots).
		UpdateColumn("vote_count", gorm.Expr("vote_count - 1")).Error
	if err != nil {
		return nil, fmt.Errorf("withdraw ballots: %w", err)
	}
	if err := tx.Where("user_id = ?", userID).Delete(&models.PollVote{}).Error; err != nil {
		return nil, fmt.Errorf("delete ballots: %w", err)
	}
	return pollIDs, nil
}

func (s *Service) find(ctx context.Context, id int) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return &user, nil
}

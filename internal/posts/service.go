// Package posts stores forum posts and lists them with per-reader vote flags.
package posts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emilythestrangee/forum/backend/internal/apperr"
	"github.com/emilythestrangee/forum/backend/internal/cache"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/polls"
	"github.com/emilythestrangee/forum/backend/internal/votes"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	SortNew = "new"
	SortTop = "top"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

type Service struct {
	db     *gorm.DB
	ledger *votes.Ledger[models.Post]
	cache  *cache.Store
	logger *zap.Logger
}

// NewService wires the post service. store is the poll results cache and may
// be nil.
func NewService(db *gorm.DB, ledger *votes.Ledger[models.Post], store *cache.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, ledger: ledger, cache: store, logger: logger.Named("posts")}
}

type CreateInput struct {
	AuthorID int
	Title    string
	Body     string
	Category models.Category
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Post, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.InvalidInput("title is required")
	}
	category, err := resolveCategory(in.Category)
	if err != nil {
		return nil, err
	}

	post := models.Post{
		Title:    title,
		Body:     in.Body,
		Category: category,
		Type:     models.PostTypeText,
		AuthorID: in.AuthorID,
	}
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	s.logger.Info("Post created", zap.Int("post_id", post.ID), zap.Int("author_id", in.AuthorID))

	if err := s.db.WithContext(ctx).Preload("User").Take(&post, post.ID).Error; err != nil {
		return nil, fmt.Errorf("reload post %d: %w", post.ID, err)
	}
	return &post, nil
}

// GetByID returns a post with its poll, comment count and the actor's vote.
func (s *Service) GetByID(ctx context.Context, id int, actorID *int) (*models.PostView, error) {
	var post models.Post
	err := s.db.WithContext(ctx).
		Preload("User").
		Preload("Poll.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Take(&post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("post not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load post %d: %w", id, err)
	}

	views, err := s.annotate(ctx, []models.Post{post}, actorID)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

type ListQuery struct {
	Page     int
	Limit    int
	Type     models.PostType
	Category models.Category
	Sort     string
	// Search matches a case-insensitive substring of the title or body.
	Search string
}

// normalise applies paging defaults and rejects unknown filters.
func (q ListQuery) normalise() (ListQuery, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	q.Search = strings.TrimSpace(q.Search)
	if q.Sort == "" {
		q.Sort = SortNew
	}
	if q.Sort != SortNew && q.Sort != SortTop {
		return q, apperr.InvalidInput(fmt.Sprintf("unknown sort %q", q.Sort))
	}
	if q.Type != "" && !q.Type.Valid() {
		return q, apperr.InvalidInput(fmt.Sprintf("unknown post type %q", q.Type))
	}
	if q.Category != "" && !q.Category.Valid() {
		return q, apperr.InvalidInput(fmt.Sprintf("unknown category %q", q.Category))
	}
	return q, nil
}

// List returns one page of posts. The total count and the page itself are
// fetched concurrently.
func (s *Service) List(ctx context.Context, query ListQuery, actorID *int) (*models.PostPage, error) {
	q, err := query.normalise()
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	filtered := func() *gorm.DB {
		db := s.db.WithContext(gctx).Model(&models.Post{})
		if q.Type != "" {
			db = db.Where("type = ?", q.Type)
		}
		if q.Category != "" {
			db = db.Where("category = ?", q.Category)
		}
		if q.Search != "" {
			pattern := "%" + likeEscaper.Replace(q.Search) + "%"
			db = db.Where("(title ILIKE ? OR body ILIKE ?)", pattern, pattern)
		}
		return db
	}

	var total int64
	g.Go(func() error {
		if err := filtered().Count(&total).Error; err != nil {
			return fmt.Errorf("count posts: %w", err)
		}
		return nil
	})

	var page []models.Post
	g.Go(func() error {
		order := "created_at DESC, id DESC"
		if q.Sort == SortTop {
			order = "upvotes DESC, created_at DESC, id DESC"
		}
		err := filtered().
			Preload("User").
			Preload("Poll.Options", func(db *gorm.DB) *gorm.DB {
				return db.Order("id ASC")
			}).
			Order(order).
			Offset((q.Page - 1) * q.Limit).
			Limit(q.Limit).
			Find(&page).Error
		if err != nil {
			return fmt.Errorf("list posts: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	views, err := s.annotate(ctx, page, actorID)
	if err != nil {
		return nil, err
	}

	return &models.PostPage{
		Posts: views,
		Pagination: models.Pagination{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      total,
			TotalPages: int((total + int64(q.Limit) - 1) / int64(q.Limit)),
		},
	}, nil
}

// ListByUser returns the posts written by userID, newest first.
func (s *Service) ListByUser(ctx context.Context, userID int, actorID *int) ([]models.PostView, error) {
	db := s.db.WithContext(ctx)

	var user models.User
	err := db.Select("id").Take(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	var posts []models.Post
	err = db.Preload("User").
		Where("author_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("list posts of user %d: %w", userID, err)
	}
	return s.annotate(ctx, posts, actorID)
}

// Update edits a post owned by actorID. Only non-nil fields change.
func (s *Service) Update(ctx context.Context, id, actorID int, upd models.PostUpdate) (*models.Post, error) {
	db := s.db.WithContext(ctx)

	var post models.Post
	err := db.Take(&post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("post not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load post %d: %w", id, err)
	}
	if post.AuthorID != actorID {
		return nil, apperr.Forbidden("you can only update your own posts")
	}

	changes := map[string]any{}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return nil, apperr.InvalidInput("title cannot be empty")
		}
		changes["title"] = title
	}
	if upd.Body != nil {
		changes["body"] = *upd.Body
	}
	if upd.Category != nil {
		if !upd.Category.Valid() {
			return nil, apperr.InvalidInput(fmt.Sprintf("unknown category %q", *upd.Category))
		}
		changes["category"] = *upd.Category
	}

	if len(changes) > 0 {
		if err := db.Model(&post).Updates(changes).Error; err != nil {
			return nil, fmt.Errorf("update post %d: %w", id, err)
		}
	}

	if err := db.Preload("User").Take(&post, id).Error; err != nil {
		return nil, fmt.Errorf("reload post %d: %w", id, err)
	}
	return &post, nil
}

// Delete removes a post owned by actorID with its poll, comments and votes.
func (s *Service) Delete(ctx context.Context, id, actorID int) error {
	var removedPolls []int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "author_id").
			Take(&post, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("post not found")
		}
		if err != nil {
			return fmt.Errorf("load post %d: %w", id, err)
		}
		if post.AuthorID != actorID {
			return apperr.Forbidden("you can only delete your own posts")
		}
		removedPolls, err = polls.DeletePost(tx, id)
		return err
	})
	if err != nil {
		return err
	}

	polls.ForgetResults(ctx, s.cache, s.logger, removedPolls...)

	s.logger.Info("Post deleted", zap.Int("post_id", id), zap.Int("author_id", actorID))
	return nil
}

func (s *Service) Upvote(ctx context.Context, id int, actorID *int) (*models.Post, error) {
	return s.ledger.Upvote(ctx, id, actorID)
}

func (s *Service) Downvote(ctx context.Context, id int, actorID *int) (*models.Post, error) {
	return s.ledger.Downvote(ctx, id, actorID)
}

func (s *Service) RemoveUpvote(ctx context.Context, id, actorID int) (*models.Post, error) {
	return s.ledger.RemoveUpvote(ctx, id, actorID)
}

func (s *Service) RemoveDownvote(ctx context.Context, id, actorID int) (*models.Post, error) {
	return s.ledger.RemoveDownvote(ctx, id, actorID)
}

// annotate attaches comment counts and the actor's votes using one query each.
func (s *Service) annotate(ctx context.Context, posts []models.Post, actorID *int) ([]models.PostView, error) {
	views := make([]models.PostView, 0, len(posts))
	if len(posts) == 0 {
		return views, nil
	}

	ids := make([]int, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}

	var rows []struct {
		PostID   int
		Comments int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.Comment{}).
		Select("post_id, COUNT(*) AS comments").
		Where("post_id IN ?", ids).
		Group("post_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count comments: %w", err)
	}
	counts := make(map[int]int64, len(rows))
	for _, r := range rows {
		counts[r.PostID] = r.Comments
	}

	flags, err := s.ledger.Flags(ctx, actorID, ids)
	if err != nil {
		return nil, err
	}

	for _, p := range posts {
		views = append(views, models.PostView{
			Post:         p,
			CommentCount: counts[p.ID],
			VoteFlags:    models.FlagsFor(flags[p.ID]),
		})
	}
	return views, nil
}

func resolveCategory(c models.Category) (models.Category, error) {
	if c == "" {
		return models.CategoryGeneral, nil
	}
	if !c.Valid() {
		return "", apperr.InvalidInput(fmt.Sprintf("unknown category %q", c))
	}
	return c, nil
}

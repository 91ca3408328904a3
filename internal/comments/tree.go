package comments

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/emilythestrangee/forum/backend/internal/apperr"
	"github.com/emilythestrangee/forum/backend/internal/models"
)

// DefaultDepth is the number of nested reply levels returned when the caller
// does not ask for a specific depth.
const DefaultDepth = 3

// BuildTree returns the root comments of a post, newest first, each carrying
// up to maxDepth levels of replies ordered oldest first. Nodes whose stored
// reply count exceeds the replies returned are flagged with HasMoreReplies.
//
// The tree is loaded one level per query, so the number of round trips is
// bounded by the depth and not by the number of comments.
func (s *Service) BuildTree(ctx context.Context, postID int, maxDepth *int, actorID *int) ([]models.CommentNode, error) {
	depth := DefaultDepth
	if maxDepth != nil {
		depth = *maxDepth
	}
	if depth < 0 {
		return nil, apperr.InvalidInput("depth must be a non-negative number")
	}

	if err := s.requirePost(ctx, postID); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)

	var roots []models.Comment
	err := db.Preload("User").
		Where("post_id = ? AND parent_comment_id IS NULL", postID).
		Order("created_at DESC, id DESC").
		Find(&roots).Error
	if err != nil {
		return nil, fmt.Errorf("load root comments: %w", err)
	}

	tree := newArena(len(roots))
	frontier := make([]int, 0, len(roots))
	for _, c := range roots {
		tree.add(c)
		frontier = append(frontier, c.ID)
	}

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		var replies []models.Comment
		err := db.Preload("User").
			Where("post_id = ? AND parent_comment_id IN ?", postID, frontier).
			Order("created_at ASC, id ASC").
			Find(&replies).Error
		if err != nil {
			return nil, fmt.Errorf("load replies at level %d: %w", level, err)
		}

		frontier = frontier[:0]
		for _, c := range replies {
			tree.add(c)
			frontier = append(frontier, c.ID)
		}
	}

	ids := tree.ids()
	counts, err := s.replyCounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	votes, err := s.ledger.Flags(ctx, actorID, ids)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Built comment tree",
		zap.Int("post_id", postID),
		zap.Int("depth", depth),
		zap.Int("nodes", len(ids)))

	return tree.materialise(counts, votes), nil
}

// replyCounts returns the number of direct replies stored for each parent id.
// Parents without replies are absent from the map.
func (s *Service) replyCounts(ctx context.Context, parentIDs []int) (map[int]int64, error) {
	out := make(map[int]int64, len(parentIDs))
	if len(parentIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		ParentID int
		Replies  int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.Comment{}).
		Select("parent_comment_id AS parent_id, COUNT(*) AS replies").
		Where("parent_comment_id IN ?", parentIDs).
		Group("parent_comment_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count replies: %w", err)
	}

	for _, r := range rows {
		out[r.ParentID] = r.Replies
	}
	return out, nil
}

type arenaNode struct {
	comment  models.Comment
	children []int
}

// arena holds the loaded comments in load order. Children are stored as
// indexes into nodes so the tree can be grown one level at a time.
type arena struct {
	nodes []arenaNode
	index map[int]int
	roots []int
}

func newArena(capacity int) *arena {
	return &arena{
		nodes: make([]arenaNode, 0, capacity),
		index: make(map[int]int, capacity),
	}
}

// add appends c under its parent, or as a root when the parent was not
// loaded. Callers add parents before their children.
func (a *arena) add(c models.Comment) {
	idx := len(a.nodes)
	a.nodes = append(a.nodes, arenaNode{comment: c})
	a.index[c.ID] = idx

	if c.ParentCommentID != nil {
		if parent, ok := a.index[*c.ParentCommentID]; ok {
			a.nodes[parent].children = append(a.nodes[parent].children, idx)
			return
		}
	}
	a.roots = append(a.roots, idx)
}

func (a *arena) ids() []int {
	out := make([]int, len(a.nodes))
	for i, n := range a.nodes {
		out[i] = n.comment.ID
	}
	return out
}

func (a *arena) materialise(counts map[int]int64, votes map[int]models.VoteType) []models.CommentNode {
	out := make([]models.CommentNode, 0, len(a.roots))
	for _, idx := range a.roots {
		out = append(out, a.node(idx, counts, votes))
	}
	return out
}

func (a *arena) node(idx int, counts map[int]int64, votes map[int]models.VoteType) models.CommentNode {
	n := a.nodes[idx]
	c := n.comment

	replies := make([]models.CommentNode, 0, len(n.children))
	for _, child := range n.children {
		replies = append(replies, a.node(child, counts, votes))
	}

	count := counts[c.ID]
	return models.CommentNode{
		ID:              c.ID,
		PostID:          c.PostID,
		ParentCommentID: c.ParentCommentID,
		Body:            c.Body,
		Author:          c.User.Author(),
		Upvotes:         c.Upvotes,
		Downvotes:       c.Downvotes,
		CreatedAt:       c.CreatedAt,
		ReplyCount:      count,
		Replies:         replies,
		HasMoreReplies:  count > int64(len(replies)),
		VoteFlags:       models.FlagsFor(votes[c.ID]),
	}
}

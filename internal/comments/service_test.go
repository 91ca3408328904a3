package comments

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/apperr"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/testutil"
	"github.com/emilythestrangee/forum/backend/internal/votes"
)

func TestMain(m *testing.M) {
	code := m.Run()
	testutil.Terminate()
	os.Exit(code)
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func newService(db *gorm.DB) *Service {
	return NewService(db, votes.NewCommentLedger(db, votes.Options{}), nil)
}

func TestBuildTreeDepthZero(t *testing.T) {
	db := testutil.DB(t)
	ctx := t.Context()
	user := testutil.CreateUser(t, db, "alice")
	post := testutil.CreatePost(t, db, user.ID, "thread")

	withReply := testutil.CreateComment(t, db, post.ID, user.ID, nil, at(0))
	testutil.CreateComment(t, db, post.ID, user.ID, &withReply.ID, at(1))
	lonely := testutil.CreateComment(t, db, post.ID, user.ID, nil, at(2))

	tree, err := newService(db).BuildTree(ctx, post.ID, testutil.Ptr(0), nil)
	require.NoError(t, err)
	require.Len(t, tree, 2)

	assert.Equal(t, lonely.ID, tree[0].ID)
	assert.Empty(t, tree[0].Replies)
	assert.False(t, tree[0].HasMoreReplies)

	assert.Equal(t, withReply.ID, tree[1].ID)
	assert.Empty(t, tree[1].Replies)
	assert.EqualValues(t, 1, tree[1].ReplyCount)
	assert.True(t, tree[1].HasMoreReplies)
}

func TestBuildTreeTruncatesAtDepth(t *testing.T) {
	db := testutil.DB(t)
	ctx := t.Context()
	user := testutil.CreateUser(t, db, "alice")
	post := testutil.CreatePost(t, db, user.ID, "thread")

	root := testutil.CreateComment(t, db, post.ID, user.ID, nil, at(0))
	l1 := testutil.CreateComment(t, db, post.ID, user.ID, &root.ID, at(1))
	l2 := testutil.CreateComment(t, db, post.ID, user.ID, &l1.ID, at(2))
	testutil.CreateComment(t, db, post.ID, user.ID, &l2.ID, at(3))

	tree, err := newService(db).BuildTree(ctx, post.ID, testutil.Ptr(2), nil)
	require.NoError(t, err)
	require.Len(t, tree, 1)

	n1 := tree[0].Replies
	require.Len(t, n1, 1)
	assert.Equal(t, l1.ID, n1[0].ID)
	assert.False(t, tree[0].HasMoreReplies)

	n2 := n1[0].Replies
	require.Len(t, n2, 1)
	assert.Equal(t, l2.ID, n2[0].ID)
	assert.False(t, n1[0].HasMoreReplies)

	assert.Empty(t, n2[0].Replies)
	assert.EqualValues(t, 1, n2[0].ReplyCount)
	assert.True(t, n2[0].HasMoreReplies)
}

func TestBuildTreeDefaultDepth(t *testing.T) {
	db := testutil.DB(t)
	ctx := t.Context()
	user := testutil.CreateUser(t, db, "alice")
	post := testutil.CreatePost(t, db, user.ID, "thread")

	parent := testutil.CreateComment(t, db, post.ID, user.ID, nil, at(0))
	for i := 1; i <= 5; i++ {
		c := testutil.CreateComment(t, db, post.ID, user.ID, &parent.ID, at(i))
		parent = c
	}

	tree, err := newService(db).BuildTree(ctx, post.ID, nil, nil)
	require.NoError(t, err)

	levels := 0
	node := tree[0]
	for len(node.Replies) > 0 {
		levels++
		node = node.Replies[0]
	}
	assert.Equal(t, DefaultDepth, levels)
	assert.True(t, node.HasMoreReplies)
}

func TestBuildTreeOrdering(t *testing.T) {
	db := testutil.DB(t)
	ctx := t.Context()
	user := testutil.CreateUser(t, db, "alice")
	post := testutil.CreatePost(t, db, user.ID, "thread")

	first := testutil.CreateComment(t, db, post.ID, user.ID, nil, at(0))
	second := testutil.CreateComment(t, db, post.ID, user.ID, nil, at(5))
	lateReply := testutil.CreateComment(t, db, post.ID, user.ID, &first.ID, at(9))
	earlyReply := testutil.CreateComment(t, db, post.ID, user.ID, &first.ID, at(1))

	tree, err := newService(db).BuildTree(ctx, post.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, tree, 2)
	assert.Equal(t, second.ID, tree[0].ID)
	assert.Equal(t, first.ID, tree[1].ID)

	require.Len(t, tree[1].Replies, 2)
	assert.Equal(t, earlyReply.ID, tree[1].Replies[0].ID)
	assert.Equal(t, lateReply.ID, tree[1].Replies[1].ID)
}

func TestBuildTreeVoteFlags(t *testing.T) {
	db := testutil.DB(t)
	ctx := t.Context()
	author := testutil.CreateUser(t, db, "alice")
	reader := testutil.CreateUser(t, db, "bob")
	post := testutil.CreatePost(t, db, author.ID, "thread")
	root := testutil.CreateComment(t, db, post.ID, author.ID, nil, at(0))
	reply := testutil.CreateComment(t, db, post.ID, author.ID, &root.ID, at(1))

	svc := newService(db)
	_, err := svc.Upvote(ctx, root.ID, &reader.ID)
	require.NoError(t, err)
	_, err = svc.Downvote(ctx, reply.ID, &reader.ID)
	require.NoError(t, err)

	tree, err := svc.BuildTree(ctx, post.ID, nil, &reader.ID)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.True(t, tree[0].WasUpvoted)
	assert.Equal(t, 1, tree[0].Upvotes)
	require.Len(t, tree[0].Replies, 1)
	assert.True(t, tree[0].Replies[0].WasDownvoted)

	anonymous, err := svc.BuildTree(ctx, post.ID, nil, nil)
	require.NoError(t, err)
	assert.False(t, anonymous[0].WasUpvoted)
	assert.False(t, anonymous[0].Replies[0].WasDownvoted)
}

func TestBuildTreeErrors(t *testing.T) {
	db := testutil.DB(t)
	ctx := t.Context()
	user := testutil.CreateUser(t, db, "alice")
	post := testutil.CreatePost(t, db, user.ID, "thread")
	svc := newService(db)

	_, err := svc.BuildTree(ctx, post.ID, testutil.Ptr(-1), nil)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))

	_, err = svc.BuildTree(ctx, 404, nil, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	tree, err := svc.BuildTree(ctx, post.ID, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, tree)
	assert.Empty(t, tree)
}

func TestCreateValidatesParent(t *testing.T) {
	db := testutil.DB(t)
	ctx := t.Context()
	user := testutil.CreateUser(t, db, "alice")
	post := testutil.CreatePost(t, db, user.ID, "one")
	other := testutil.CreatePost(t, db, user.ID, "two")
	foreign := testutil.CreateComment(t, db, other.ID, user.ID, nil, at(0))
	svc := newService(db)

	_, err := svc.Create(ctx, CreateInput{PostID: post.ID, AuthorID: user.ID, Body: "hi", ParentCommentID: &foreign.ID})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))

	_, err = svc.Create(ctx, CreateInput{PostID: post.ID, AuthorID: user.ID, Body: "hi", ParentCommentID: testutil.Ptr(999)})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = svc.Create(ctx, CreateInput{PostID: 999, AuthorID: user.ID, Body: "hi"})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = svc.Create(ctx, CreateInput{PostID: post.ID, AuthorID: user.ID, Body: "   "})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))

	created, err := svc.Create(ctx, CreateInput{PostID: post.ID, AuthorID: user.ID, Body: " hello "})
	require.NoError(t, err)
	assert.Equal(t, "hello", created.Body)
	assert.Equal(t, "alice", created.User.Username)

	reply, err := svc.Reply(ctx, created.ID, user.ID, "answer")
	require.NoError(t, err)
	assert.Equal(t, post.ID, reply.PostID)
	require.NotNil(t, reply.ParentCommentID)
	assert.Equal(t, created.ID, *reply.ParentCommentID)
}

func TestGetByIDIncludesPostAndReplies(t *testing.T) {
	db := testutil.DB(t)
	ctx := t.Context()
	author := testutil.CreateUser(t, db, "alice")
	reader := testutil.CreateUser(t, db, "bob")
	post := testutil.CreatePost(t, db, author.ID, "thread")
	root := testutil.CreateComment(t, db, post.ID, author.ID, nil, at(0))
	second := testutil.CreateComment(t, db, post.ID, reader.ID, &root.ID, at(4))
	first := testutil.CreateComment(t, db, post.ID, reader.ID, &root.ID, at(2))
	svc := newService(db)

	_, err := svc.Upvote(ctx, first.ID, &reader.ID)
	require.NoError(t, err)

	detail, err := svc.GetByID(ctx, root.ID, &reader.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostSummary{ID: post.ID, Title: "thread"}, detail.Post)
	assert.Equal(t, "alice", detail.Author.Username)
	require.Len(t, detail.Replies, 2)
	assert.Equal(t, first.ID, detail.Replies[0].ID)
	assert.True(t, detail.Replies[0].WasUpvoted)
	assert.Equal(t, second.ID, detail.Replies[1].ID)
	assert.Equal(t, "bob", detail.Replies[1].Author.Username)

	_, err = svc.GetByID(ctx, 999, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestUpdateOwnerOnly(t *testing.T) {
	db := testutil.DB(t)
	ctx := t.Context()
	owner := testutil.CreateUser(t, db, "alice")
	stranger := testutil.CreateUser(t, db, "mallory")
	post := testutil.CreatePost(t, db, owner.ID, "thread")
	c := testutil.CreateComment(t, db, post.ID, owner.ID, nil, at(0))
	svc := newService(db)

	_, err := svc.Update(ctx, c.ID, stranger.ID, models.CommentUpdate{Body: testutil.Ptr("mine now")})
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	updated, err := svc.Update(ctx, c.ID, owner.ID, models.CommentUpdate{Body: testutil.Ptr("edited")})
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Body)
}

func TestDeleteRemovesSubtreeAndVotes(t *testing.T) {
	db := testutil.DB(t)
	ctx := t.Context()
	owner := testutil.CreateUser(t, db, "alice")
	other := testutil.CreateUser(t, db, "bob")
	post := testutil.CreatePost(t, db, owner.ID, "thread")
	root := testutil.CreateComment(t, db, post.ID, owner.ID, nil, at(0))
	child := testutil.CreateComment(t, db, post.ID, other.ID, &root.ID, at(1))
	grandchild := testutil.CreateComment(t, db, post.ID, owner.ID, &child.ID, at(2))
	sibling := testutil.CreateComment(t, db, post.ID, other.ID, nil, at(3))
	svc := newService(db)

	_, err := svc.Upvote(ctx, grandchild.ID, &other.ID)
	require.NoError(t, err)
	_, err = svc.Upvote(ctx, sibling.ID, &owner.ID)
	require.NoError(t, err)

	err = svc.Delete(ctx, root.ID, other.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	require.NoError(t, svc.Delete(ctx, root.ID, owner.ID))

	var remaining []int
	require.NoError(t, db.Model(&models.Comment{}).Order("id").Pluck("id", &remaining).Error)
	assert.Equal(t, []int{sibling.ID}, remaining)

	var voteRows int64
	require.NoError(t, db.Model(&models.CommentVote{}).Count(&voteRows).Error)
	assert.EqualValues(t, 1, voteRows)

	err = svc.Delete(ctx, root.ID, owner.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestListByUser(t *testing.T) {
	db := testutil.DB(t)
	ctx := t.Context()
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	post := testutil.CreatePost(t, db, alice.ID, "thread")
	older := testutil.CreateComment(t, db, post.ID, alice.ID, nil, at(0))
	testutil.CreateComment(t, db, post.ID, bob.ID, nil, at(1))
	newer := testutil.CreateComment(t, db, post.ID, alice.ID, nil, at(2))
	svc := newService(db)

	list, err := svc.ListByUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	_, err = svc.ListByUser(ctx, 999)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestCommentRowsNeedExistingPostAndParent(t *testing.T) {
	db := testutil.DB(t)
	user := testutil.CreateUser(t, db, "alice")
	post := testutil.CreatePost(t, db, user.ID, "thread")

	err := db.Create(&models.Comment{Body: "lost", AuthorID: user.ID, PostID: 999}).Error
	assert.True(t, apperr.IsForeignKeyViolation(err), "got %v", err)

	err = db.Create(&models.Comment{Body: "lost", AuthorID: user.ID, PostID: post.ID, ParentCommentID: testutil.Ptr(999)}).Error
	assert.True(t, apperr.IsForeignKeyViolation(err), "got %v", err)

	// Removing a post row directly still takes its comments with it.
	parent := testutil.CreateComment(t, db, post.ID, user.ID, nil, at(0))
	testutil.CreateComment(t, db, post.ID, user.ID, &parent.ID, at(1))
	require.NoError(t, db.Delete(&models.Post{}, post.ID).Error)

	var left int64
	require.NoError(t, db.Model(&models.Comment{}).Count(&left).Error)
	assert.Zero(t, left)
}

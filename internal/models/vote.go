package models

import "time"

type VoteType string

const (
	Upvote   VoteType = "upvote"
	Downvote VoteType = "downvote"
)

func (v VoteType) Opposite() VoteType {
	if v == Upvote {
		return Downvote
	}
	return Upvote
}

// Counter is the denormalised column holding the tally for this direction.
func (v VoteType) Counter() string {
	if v == Upvote {
		return "upvotes"
	}
	return "downvotes"
}

// PostVote is a ledger row: at most one per (user, post).
type PostVote struct {
	UserID    int       `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	PostID    int       `gorm:"primaryKey;autoIncrement:false;index" json:"post_id"`
	Post      *Post     `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
	VoteType  VoteType  `gorm:"size:10;not null" json:"vote_type"`
	CreatedAt time.Time `json:"created_at"`
}

// CommentVote is a ledger row: at most one per (user, comment).
type CommentVote struct {
	UserID    int       `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	CommentID int       `gorm:"primaryKey;autoIncrement:false;index" json:"comment_id"`
	Comment   *Comment  `gorm:"foreignKey:CommentID;constraint:OnDelete:CASCADE" json:"-"`
	VoteType  VoteType  `gorm:"size:10;not null" json:"vote_type"`
	CreatedAt time.Time `json:"created_at"`
}

// VoteFlags annotates a target with the requesting user's ledger row.
type VoteFlags struct {
	WasUpvoted   bool `json:"was_upvoted"`
	WasDownvoted bool `json:"was_downvoted"`
}

func FlagsFor(v VoteType) VoteFlags {
	return VoteFlags{WasUpvoted: v == Upvote, WasDownvoted: v == Downvote}
}

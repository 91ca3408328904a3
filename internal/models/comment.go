package models

import "time"

type Comment struct {
	ID              int       `gorm:"primaryKey" json:"id"`
	Body            string    `gorm:"not null" json:"body"`
	AuthorID        int       `gorm:"not null;index" json:"author_id"`
	User            User      `gorm:"foreignKey:AuthorID" json:"user"`
	PostID          int       `gorm:"not null;index" json:"post_id"`
	Post            *Post     `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
	ParentCommentID *int      `gorm:"index" json:"parent_comment_id,omitempty"`
	Parent          *Comment  `gorm:"foreignKey:ParentCommentID;constraint:OnDelete:CASCADE" json:"-"`
	Upvotes         int       `gorm:"not null;default:0" json:"upvotes"`
	Downvotes       int       `gorm:"not null;default:0" json:"downvotes"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type CreateCommentRequest struct {
	Body            string `json:"body" binding:"required"`
	ParentCommentID *int   `json:"parent_comment_id,omitempty"`
}

// CommentUpdate enumerates the fields an author may change; nil means unchanged.
type CommentUpdate struct {
	Body *string `json:"body"`
}

// CommentNode is one comment of a reply tree.
type CommentNode struct {
	ID              int           `json:"id"`
	PostID          int           `json:"post_id"`
	ParentCommentID *int          `json:"parent_comment_id,omitempty"`
	Body            string        `json:"body"`
	Author          Author        `json:"author"`
	Upvotes         int           `json:"upvotes"`
	Downvotes       int           `json:"downvotes"`
	CreatedAt       time.Time     `json:"created_at"`
	ReplyCount      int64         `json:"reply_count"`
	Replies         []CommentNode `json:"replies"`
	HasMoreReplies  bool          `json:"has_more_replies"`
	VoteFlags
}

type PostSummary struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

type ReplySummary struct {
	ID        int       `json:"id"`
	Body      string    `json:"body"`
	Author    Author    `json:"author"`
	Upvotes   int       `json:"upvotes"`
	Downvotes int       `json:"downvotes"`
	CreatedAt time.Time `json:"created_at"`
	VoteFlags
}

// CommentDetail is a single comment with its post and direct replies.
type CommentDetail struct {
	ID              int            `json:"id"`
	PostID          int            `json:"post_id"`
	ParentCommentID *int           `json:"parent_comment_id,omitempty"`
	Body            string         `json:"body"`
	Author          Author         `json:"author"`
	Post            PostSummary    `json:"post"`
	Upvotes         int            `json:"upvotes"`
	Downvotes       int            `json:"downvotes"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Replies         []ReplySummary `json:"replies"`
	VoteFlags
}

func (c Comment) Counts() (upvotes, downvotes int) { return c.Upvotes, c.Downvotes }

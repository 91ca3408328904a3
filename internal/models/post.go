package models

import "time"

type PostType string

const (
	PostTypeText PostType = "text"
	PostTypePoll PostType = "poll"
)

func (t PostType) Valid() bool {
	return t == PostTypeText || t == PostTypePoll
}

type Category string

const (
	CategoryGeneral  Category = "General"
	CategoryEvents   Category = "Events"
	CategoryFinances Category = "Finances"
	CategorySports   Category = "Sports"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryEvents, CategoryFinances, CategorySports:
		return true
	}
	return false
}

type Post struct {
	ID        int       `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:300;not null" json:"title"`
	Body      string    `json:"body"`
	Category  Category  `gorm:"size:20;not null;default:General;index" json:"category"`
	Type      PostType  `gorm:"size:10;not null;default:text;index" json:"type"`
	AuthorID  int       `gorm:"not null;index" json:"author_id"`
	User      User      `gorm:"foreignKey:AuthorID" json:"user"`
	Upvotes   int       `gorm:"not null;default:0" json:"upvotes"`
	Downvotes int       `gorm:"not null;default:0" json:"downvotes"`
	Poll      *Poll     `gorm:"foreignKey:PostID" json:"poll,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreatePostRequest struct {
	Title    string   `json:"title" binding:"required,max=300"`
	Body     string   `json:"body" binding:"required"`
	Category Category `json:"category"`
}

// PostUpdate enumerates the fields an author may change; nil means unchanged.
type PostUpdate struct {
	Title    *string   `json:"title" binding:"omitempty,max=300"`
	Body     *string   `json:"body"`
	Category *Category `json:"category"`
}

// PostView is a post as returned to a (possibly anonymous) reader.
type PostView struct {
	Post
	CommentCount int64 `json:"comment_count"`
	VoteFlags
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

type PostPage struct {
	Posts      []PostView `json:"posts"`
	Pagination Pagination `json:"pagination"`
}

func (p Post) Counts() (upvotes, downvotes int) { return p.Upvotes, p.Downvotes }

package models

import "time"

type Poll struct {
	ID             int          `gorm:"primaryKey" json:"id"`
	PostID         int          `gorm:"uniqueIndex;not null" json:"post_id"`
	MultipleChoice bool         `gorm:"not null;default:false" json:"multiple_choice"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	Options        []PollOption `gorm:"foreignKey:PollID" json:"options"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Expired reports whether the poll stopped accepting ballots before now.
func (p Poll) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && p.ExpiresAt.Before(now)
}

type PollOption struct {
	ID        int    `gorm:"primaryKey" json:"id"`
	PollID    int    `gorm:"not null;index" json:"poll_id"`
	Text      string `gorm:"not null" json:"text"`
	VoteCount int    `gorm:"not null;default:0" json:"vote_count"`
}

// PollVote is one ballot row per (user, option).
type PollVote struct {
	UserID   int         `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	OptionID int         `gorm:"primaryKey;autoIncrement:false;index" json:"option_id"`
	Option   *PollOption `gorm:"foreignKey:OptionID;constraint:OnDelete:CASCADE" json:"-"`
	PollID   int         `gorm:"not null;index" json:"poll_id"`
	Poll     *Poll       `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"-"`
	VotedAt  time.Time   `gorm:"autoCreateTime" json:"voted_at"`
}

type CreatePollRequest struct {
	Title          string     `json:"title" binding:"required,max=300"`
	Body           string     `json:"body"`
	Category       Category   `json:"category"`
	MultipleChoice bool       `json:"multiple_choice"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Options        []string   `json:"options" binding:"required,min=2,dive,required"`
}

// PollUpdate enumerates the poll settings an owner may change.
type PollUpdate struct {
	MultipleChoice *bool      `json:"multiple_choice"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

type VotePollRequest struct {
	OptionIDs []int `json:"option_ids" binding:"required,min=1"`
}

type OptionResult struct {
	ID         int     `json:"id"`
	Text       string  `json:"text"`
	Votes      int     `json:"votes"`
	Percentage float64 `json:"percentage"`
}

type PollResults struct {
	PollID     int            `json:"poll_id"`
	TotalVotes int            `json:"total_votes"`
	Options    []OptionResult `json:"options"`
}

// PollView is a poll together with the post that carries it.
type PollView struct {
	Poll
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Category Category `json:"category"`
	Author   Author   `json:"author"`
}

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVoteTypeOpposite(t *testing.T) {
	assert.Equal(t, Downvote, Upvote.Opposite())
	assert.Equal(t, Upvote, Downvote.Opposite())
	assert.Equal(t, "upvotes", Upvote.Counter())
	assert.Equal(t, "downvotes", Downvote.Opposite().Opposite().Counter())
}

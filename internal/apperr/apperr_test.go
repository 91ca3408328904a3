package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAsUnwrapsWrappedErrors(t *testing.T) {
	err := fmt.Errorf("upvote post 7: %w", Conflict(ReasonAlreadyVoted, "already upvoted"))

	e, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindConflict, e.Kind)
	assert.Equal(t, ReasonAlreadyVoted, e.Reason)
	assert.True(t, IsKind(err, KindConflict))
	assert.True(t, HasReason(err, ReasonAlreadyVoted))
	assert.False(t, HasReason(err, ReasonOppositeVoteExists))
}

func TestInternalErrorsAreNotDomainErrors(t *testing.T) {
	err := fmt.Errorf("query: %w", errors.New("connection reset by peer"))

	_, ok := As(err)
	assert.False(t, ok)
	assert.False(t, IsKind(err, KindConflict))
}

func TestErrorsIsMatchesKindAndReason(t *testing.T) {
	err := fmt.Errorf("vote: %w", Conflict(ReasonExpired, "poll has expired"))

	assert.ErrorIs(t, err, Conflict(ReasonExpired, ""))
	assert.NotErrorIs(t, err, Conflict(ReasonMinimumOptions, ""))
	assert.NotErrorIs(t, err, NotFound(""))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "not_found: post not found", NotFound("post not found").Error())
	assert.Equal(t, "conflict (no_vote): nothing to remove",
		Conflict(ReasonNoVote, "nothing to remove").Error())
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, true},
		{"pgx unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"pgx other", &pgconn.PgError{Code: "40001"}, false},
		{"lib/pq unique", &pq.Error{Code: "23505"}, true},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm foreign key", fmt.Errorf("insert comment: %w", gorm.ErrForeignKeyViolated), true},
		{"pgx foreign key", &pgconn.PgError{Code: "23503"}, true},
		{"lib/pq foreign key", fmt.Errorf("insert: %w", &pq.Error{Code: "23503"}), true},
		{"unique is not foreign key", &pgconn.PgError{Code: "23505"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsForeignKeyViolation(tt.err))
		})
	}
}

package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLikeEntry_ConfirmAndRollback(t *testing.T) {
	e := &likeEntry{}
	e.settle(false, 3, true)
	assert.Equal(t, LikeNotLiked, e.status)

	seq := e.begin()
	assert.Equal(t, LikePending, e.status)
	assert.True(t, e.liked)
	assert.Equal(t, 4, e.count)

	assert.True(t, e.rollback(seq))
	assert.Equal(t, LikeRolledBack, e.status)
	assert.False(t, e.liked)
	assert.Equal(t, 3, e.count)
	assert.False(t, e.rollback(seq))

	seq = e.begin()
	e.confirm(seq, 7, true)
	assert.Equal(t, LikeConfirmed, e.status)
	assert.Equal(t, 7, e.count)
}

func TestLikeEntry_UnlikeClampsAtZero(t *testing.T) {
	e := &likeEntry{}
	e.settle(true, 0, true)
	e.begin()
	assert.False(t, e.liked)
	assert.Equal(t, 0, e.count)
}

func TestLikeEntry_PendingSurvivesSettle(t *testing.T) {
	e := &likeEntry{}
	e.settle(false, 3, true)
	e.begin()

	e.settle(false, 3, true)
	assert.Equal(t, LikePending, e.status)
	assert.Equal(t, 4, e.count)
}

func TestLikeEntry_OverlappingTogglesLastWriteWins(t *testing.T) {
	e := &likeEntry{}
	e.settle(false, 3, true)

	first := e.begin()
	second := e.begin()
	assert.False(t, e.liked)
	assert.Equal(t, 3, e.count)

	// the older answer lands while the newer toggle is in flight
	e.confirm(first, 4, true)
	assert.Equal(t, LikePending, e.status)
	assert.Equal(t, 3, e.count)

	assert.True(t, e.rollback(second))
	assert.True(t, e.liked)
	assert.Equal(t, 4, e.count)
}

func TestLikeEntry_OverlappingTogglesBothFail(t *testing.T) {
	e := &likeEntry{}
	e.settle(false, 3, true)

	first := e.begin()
	second := e.begin()

	// the older failure only rewrites what the newer toggle returns to
	assert.False(t, e.rollback(first))
	assert.Equal(t, LikePending, e.status)
	assert.False(t, e.liked)
	assert.Equal(t, 3, e.count)

	assert.True(t, e.rollback(second))
	assert.Equal(t, LikeRolledBack, e.status)
	assert.False(t, e.liked)
	assert.Equal(t, 3, e.count)
}

func TestLikeEntry_OlderFailureAfterNewerConfirmIsIgnored(t *testing.T) {
	e := &likeEntry{}
	e.settle(true, 1, true)

	first := e.begin()
	second := e.begin()
	e.confirm(second, 5, true)

	assert.False(t, e.rollback(first))
	assert.Equal(t, LikeConfirmed, e.status)
	assert.True(t, e.liked)
	assert.Equal(t, 5, e.count)
}

func TestLikeStatus_String(t *testing.T) {
	assert.Equal(t, "pending", LikePending.String())
	assert.Equal(t, "unknown", LikeStatus(99).String())
}

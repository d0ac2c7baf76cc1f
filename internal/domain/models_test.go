package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"matchtalk/internal/domain"
)

func TestNormalizePair(t *testing.T) {
	low, high := domain.NormalizePair(9, 3)
	assert.Equal(t, int64(3), low)
	assert.Equal(t, int64(9), high)

	low, high = domain.NormalizePair(3, 9)
	assert.Equal(t, int64(3), low)
	assert.Equal(t, int64(9), high)
}

func TestConversationParticipants(t *testing.T) {
	conv := &domain.Conversation{UserLowID: 3, UserHighID: 9, HighArchived: true}

	assert.True(t, conv.HasParticipant(3))
	assert.True(t, conv.HasParticipant(9))
	assert.False(t, conv.HasParticipant(12))

	assert.Equal(t, int64(9), conv.OtherParticipant(3))
	assert.Equal(t, int64(3), conv.OtherParticipant(9))
	assert.Zero(t, conv.OtherParticipant(12))

	assert.False(t, conv.ArchivedFor(3))
	assert.True(t, conv.ArchivedFor(9))
	assert.False(t, conv.ArchivedFor(12))
}

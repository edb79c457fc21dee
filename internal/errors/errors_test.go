package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrConflict,
		ErrNotFound,
		ErrMalformedSnapshot,
		ErrUnsupportedSchema,
		ErrRemoteUnavailable,
		ErrUnknownCollection,
	}
	for i := 0; i < len(sentinels); i++ {
		assert.NotEmpty(t, sentinels[i].Error())
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotErrorIs(t, sentinels[i], sentinels[j])
		}
	}
}

func TestConflictError_MatchesSentinel(t *testing.T) {
	err := &ConflictError{ID: "task:1", Expected: "3", Current: "4"}
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "task:1")
}

func TestIsConflict_Wrapped(t *testing.T) {
	err := fmt.Errorf("bulk write: %w", &ConflictError{ID: "tag:1"})
	assert.True(t, IsConflict(err))
	assert.False(t, IsConflict(errors.New("disk full")))
	assert.False(t, IsConflict(nil))
}

package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRandByteArray(t *testing.T) {
	a := GenerateRandByteArray(32)
	b := GenerateRandByteArray(32)
	require.Len(t, a, 32)
	require.Len(t, b, 32)
	assert.NotEqual(t, a, b)
}

func TestWipeByteArray(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	WipeByteArray(buf)
	assert.Equal(t, []byte{0, 0, 0, 0, 0}, buf)

	assert.NotPanics(t, func() { WipeByteArray(nil) })
}

func TestSentinels_MatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create upload task[%d]: %w", 7, ErrMaintenanceModeActive)
	assert.True(t, errors.Is(err, ErrMaintenanceModeActive))
	assert.False(t, errors.Is(err, ErrRunningTaskExists))
}

func TestErrorCode_RoundTrip(t *testing.T) {
	for _, err := range []error{ErrNoConnectivity, ErrParentFolderMissing, ErrInvalidName, ErrUnauthorized} {
		code, domain := ErrorCode(fmt.Errorf("wrapped: %w", err))
		assert.NotZero(t, code)
		assert.ErrorIs(t, ErrorFromCode(code, domain), err)
	}

	code, domain := ErrorCode(errors.New("weird"))
	assert.Equal(t, 0, code)
	assert.Equal(t, DomainLocal, domain)
	assert.ErrorIs(t, ErrorFromCode(code, domain), ErrorInternal)
	assert.ErrorIs(t, ErrorFromCode(6, DomainLocal), ErrorInternal)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("upload: %w", ErrNoConnectivity)))
	assert.True(t, IsRetryable(ErrRateLimited))
	assert.False(t, IsRetryable(ErrItemNotFound))
	assert.False(t, IsRetryable(nil))
}

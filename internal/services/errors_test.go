package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: abc", ErrSessionNotFound), "SESSION_NOT_FOUND"},
		{fmt.Errorf("%w: within 15s", ErrPopupNotOpened), "POPUP_NOT_OPENED"},
		{fmt.Errorf("%w after 3 attempts: %w", ErrAttemptsExhausted, ErrArtifactNotFound), "ARTIFACT_NOT_FOUND"},
		{fmt.Errorf("%w after 3 attempts", ErrAttemptsExhausted), "ATTEMPTS_EXHAUSTED"},
		{errors.New("something else"), "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "error: %v", tt.err)
	}
}

func TestIsRecoverable(t *testing.T) {
	recoverable := []error{
		ErrPopupNotOpened,
		ErrArtifactNotFound,
		ErrOracleInvalidAnswer,
		ErrCaptchaRejected,
		ErrNavigationTimeout,
		ErrCaptchaNotFound,
	}
	for _, err := range recoverable {
		assert.True(t, IsRecoverable(fmt.Errorf("%w: detail", err)), err.Error())
	}

	terminal := []error{
		nil,
		ErrSessionNotFound,
		ErrSessionBusy,
		ErrUnexpectedPageState,
		ErrSubmitClickFailed,
		ErrOracleUnavailable,
		errors.New("launch failed"),
	}
	for _, err := range terminal {
		assert.False(t, IsRecoverable(err), "%v", err)
	}
}

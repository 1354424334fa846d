package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"validation", NewValidationError("bad"), CodeValidation, fiber.StatusBadRequest},
		{"not found", NewNotFoundError("comment", 7), CodeNotFound, fiber.StatusNotFound},
		{"conflict", NewConflictError("comment", 7), CodeConflict, fiber.StatusConflict},
		{"rate limited", NewRateLimitedError("like"), CodeRateLimited, fiber.StatusTooManyRequests},
		{"internal", NewInternalError(errors.New("boom")), CodeInternal, fiber.StatusInternalServerError},
		{"plain", errors.New("plain"), "", fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			wrapped := fmt.Errorf("context: %w", tt.err)
			assert.Equal(t, tt.code, ErrorCode(wrapped))
			assert.Equal(t, tt.status, StatusFor(wrapped))
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	t.Parallel()

	assert.True(t, IsValidation(NewValidationError("x")))
	assert.True(t, IsNotFound(NewNotFoundError("comment", 1)))
	assert.True(t, IsConflict(NewConflictError("comment", 1)))
	assert.True(t, IsRateLimited(NewRateLimitedError("report")))
	assert.False(t, IsConflict(NewNotFoundError("comment", 1)))
}

func TestAppError_MessageIncludesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("db down")
	err := NewInternalError(cause)
	assert.Equal(t, "Internal server error: db down", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestReplyDepth(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, ReplyDepth(nil))
	assert.Equal(t, 3, ReplyDepth(&Comment{Depth: 2}))
}

func TestReportReason_Valid(t *testing.T) {
	t.Parallel()

	for _, r := range ReportReasons {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, ReportReason("rude").Valid())
}

func TestCommentStatus_Valid(t *testing.T) {
	t.Parallel()

	for _, s := range []CommentStatus{StatusPending, StatusPublished, StatusHidden, StatusSpam} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, CommentStatus("deleted").Valid())
}

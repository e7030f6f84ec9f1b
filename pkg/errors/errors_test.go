package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWalksWrapChain(t *testing.T) {
	err := Wrapf(ErrAlreadyClaimed, "assignment %s", "asg_1")
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, Is(err, ErrAlreadyClaimed))
	assert.False(t, Is(err, ErrAlreadyAssigned))

	std := fmt.Errorf("outer: %w", err)
	assert.Equal(t, KindConflict, KindOf(std))
	assert.True(t, stderrors.Is(std, ErrAlreadyClaimed))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(stderrors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(Internal(stderrors.New("db down"), "load request")))
}

func TestValidationf(t *testing.T) {
	err := Validationf("latitude %v out of range", 91)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Contains(t, err.Error(), "latitude 91 out of range")
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Wrap(ErrAlreadyAssigned, "commit")))
	assert.True(t, Retryable(ErrDirectoryUnavailable))
	assert.False(t, Retryable(ErrInvalidTransition))
	assert.False(t, Retryable(Validationf("bad")))
}

func TestWithContextCopies(t *testing.T) {
	base := Newf(KindNotFound, "request %s", "sos_1")
	withCtx := base.WithContext("request_id", "sos_1")
	assert.Empty(t, base.Context)
	assert.Len(t, withCtx.Context, 1)
	assert.Equal(t, KindNotFound, withCtx.Kind)
}

func TestCause(t *testing.T) {
	root := stderrors.New("root")
	assert.Equal(t, root, Cause(Wrap(Wrap(root, "inner"), "outer")))
}

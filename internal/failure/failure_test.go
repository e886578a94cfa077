package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWalksWrappedChain(t *testing.T) {
	base := New(KindReferenceNotFound, "resolve", errors.New("no row"))
	wrapped := fmt.Errorf("job sales: %w", base)

	assert.Equal(t, KindReferenceNotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindReferenceNotFound))
	assert.False(t, Is(wrapped, KindTimeout))
	assert.EqualError(t, base, "resolve: no row")
}

func TestKindOfContextErrors(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("poll: %w", context.Canceled)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestIsFindsInnerKind(t *testing.T) {
	inner := New(KindUnavailable, "dial", errors.New("refused"))
	outer := New(KindToolPermanent, "navigate", inner)

	assert.Equal(t, KindToolPermanent, KindOf(outer))
	assert.True(t, Is(outer, KindUnavailable))
}

func TestRetryable(t *testing.T) {
	assert.True(t, KindToolTransient.Retryable())
	assert.True(t, KindReferenceNotFound.Retryable())
	assert.False(t, KindToolPermanent.Retryable())
	assert.False(t, KindReconciliationTimeout.Retryable())
}

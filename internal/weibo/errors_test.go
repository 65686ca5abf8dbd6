package weibo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := WrapError(ErrKindTransport, "retry budget exhausted", cause)

	require.Equal(t, ErrKindTransport, KindOf(err))
	require.True(t, IsClassified(err))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "transport")
	require.Contains(t, err.Error(), "connection refused")
}

func TestErrorClassificationThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrKindNotFound, "no posts found")
	wrapped := fmt.Errorf("query: %w", inner)

	require.Equal(t, ErrKindNotFound, KindOf(wrapped))
	require.True(t, IsClassified(wrapped))
}

func TestUnclassifiedError(t *testing.T) {
	t.Parallel()

	err := errors.New("plain failure")
	require.Equal(t, ErrorKind(""), KindOf(err))
	require.False(t, IsClassified(err))
}

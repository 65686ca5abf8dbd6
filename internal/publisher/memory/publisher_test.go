package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := context.Background()

	id1, err := p.Publish(ctx, "crawl-done", map[string]string{"task_id": "a"})
	require.NoError(t, err)
	require.Equal(t, "1", id1)

	id2, err := p.Publish(ctx, "crawl-done", map[string]string{"task_id": "b"})
	require.NoError(t, err)
	require.Equal(t, "2", id2)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "crawl-done", msgs[0].Topic)
	require.JSONEq(t, `{"task_id":"a"}`, string(msgs[0].Payload))
	require.JSONEq(t, `{"task_id":"b"}`, string(msgs[1].Payload))
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Publish(context.Background(), "t", make(chan int))
	require.Error(t, err)
	require.Empty(t, p.Messages())
}

func TestMessagesReturnsCopy(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Publish(context.Background(), "t", "x")
	require.NoError(t, err)

	msgs := p.Messages()
	msgs[0].Topic = "mutated"
	require.Equal(t, "t", p.Messages()[0].Topic)
}

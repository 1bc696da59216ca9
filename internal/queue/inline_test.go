package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInline_RunsHandler(t *testing.T) {
	q := NewInline()
	var got []string
	q.Handle(KindSend, func(_ context.Context, task *Task) error {
		var p EntryPayload
		require.NoError(t, json.Unmarshal(task.Payload, &p))
		got = append(got, p.EntryID)
		return nil
	})

	h, err := q.EnqueueEntry(context.Background(), KindSend, "e1")
	require.NoError(t, err)
	assert.Equal(t, KindSend, h.Kind)
	assert.NotEmpty(t, h.ID)
	assert.Equal(t, []string{"e1"}, got)
}

func TestInline_ReturnsHandlerError(t *testing.T) {
	q := NewInline()
	boom := errors.New("boom")
	q.Handle(KindWebhook, func(context.Context, *Task) error { return boom })

	err := q.EnqueueWebhook(context.Background(), "rec-1")
	assert.ErrorIs(t, err, boom)

	_, err = q.Enqueue(context.Background(), "unknown.kind", nil)
	assert.Error(t, err)
}

func TestInline_EnqueueOnce(t *testing.T) {
	q := NewInline()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	runs := 0
	q.Handle(KindGenerate, func(context.Context, *Task) error { runs++; return nil })

	_, added, err := q.EnqueueOnce(context.Background(), KindGenerate, "e1", time.Minute, EntryPayload{EntryID: "e1"})
	require.NoError(t, err)
	assert.True(t, added)

	_, added, err = q.EnqueueOnce(context.Background(), KindGenerate, "e1", time.Minute, EntryPayload{EntryID: "e1"})
	require.NoError(t, err)
	assert.False(t, added)

	now = now.Add(time.Minute)
	_, added, _ = q.EnqueueOnce(context.Background(), KindGenerate, "e1", time.Minute, EntryPayload{EntryID: "e1"})
	assert.True(t, added)
	assert.Equal(t, 2, runs)
}

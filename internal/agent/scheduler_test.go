package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/switchboard/internal/store"
)

type brainFunc func(ctx context.Context, chatID, input string) (string, error)

func (f brainFunc) Think(ctx context.Context, chatID, input string) (string, error) {
	return f(ctx, chatID, input)
}

type outbox struct{ sent map[string][]string }

func (o *outbox) Send(chatID, text string) error {
	if o.sent == nil {
		o.sent = map[string][]string{}
	}
	o.sent[chatID] = append(o.sent[chatID], text)
	return nil
}

func TestScheduler_RunDue(t *testing.T) {
	h, err := store.NewHistoryStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.AddTask("chat-1", "drink water", 0))
	require.NoError(t, h.AddTask("chat-2", "stand up", 3600))
	require.NoError(t, h.AddTask("chat-3", "broken", 3600))

	var inputs []string
	brain := brainFunc(func(ctx context.Context, chatID, input string) (string, error) {
		if chatID == "chat-3" {
			return "", errors.New("boom")
		}
		inputs = append(inputs, input)
		return "reminder for " + chatID, nil
	})
	out := &outbox{}
	s := NewScheduler(brain, h, out, nil)

	s.RunDue(context.Background())

	require.Len(t, inputs, 2)
	assert.Contains(t, inputs[0], `"drink water"`)
	assert.Contains(t, out.sent["chat-1"][0], "reminder for chat-1")
	assert.Contains(t, out.sent["chat-2"][0], "reminder for chat-2")
	assert.Empty(t, out.sent["chat-3"])

	// The one-time task is gone, the interval task ran recently, and the
	// failed task is retried next poll.
	pending, err := h.GetPendingTasks()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "chat-3", pending[0].ChatID)

	left, err := h.ListTasks("chat-1")
	require.NoError(t, err)
	assert.Empty(t, left)
}

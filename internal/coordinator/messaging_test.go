package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexmesh/core/pkg/types"
)

func waitForPending(t *testing.T, m *Messaging, agentID string, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.PendingCount(agentID) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("agent %s never reached %d pending messages", agentID, n)
}

func TestSendMessageThenGetMessagesRoundTrip(t *testing.T) {
	m := NewMessaging(8)
	defer m.Close()

	require.NoError(t, m.EnsureInbox(context.Background(), "agent-2"))
	require.NoError(t, m.SendMessage(context.Background(), Message{
		FromAgent: "agent-1",
		ToAgent:   "agent-2",
		Type:      "ping",
		Payload:   []byte("hello"),
	}))

	waitForPending(t, m, "agent-2", 1)
	msgs := m.GetMessages("agent-2")
	require.Len(t, msgs, 1)
	assert.Equal(t, "agent-1", msgs[0].FromAgent)
	assert.Equal(t, []byte("hello"), msgs[0].Payload)

	assert.Empty(t, m.GetMessages("agent-2"))
}

func TestSendMessageWithoutRecipientInboxIsDropped(t *testing.T) {
	m := NewMessaging(8)
	defer m.Close()

	err := m.SendMessage(context.Background(), Message{
		FromAgent: "agent-1",
		ToAgent:   "agent-ghost",
		Type:      "ping",
	})
	require.NoError(t, err)
	assert.Empty(t, m.GetMessages("agent-ghost"))
}

func TestInboxDropsOldestMessageOnOverflow(t *testing.T) {
	m := NewMessaging(2)
	defer m.Close()
	require.NoError(t, m.EnsureInbox(context.Background(), "agent-2"))

	for i := 0; i < 3; i++ {
		require.NoError(t, m.SendMessage(context.Background(), Message{
			FromAgent: "agent-1",
			ToAgent:   "agent-2",
			Type:      "seq",
			Payload:   []byte{byte(i)},
		}))
	}

	waitForPending(t, m, "agent-2", 2)
	msgs := m.GetMessages("agent-2")
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte{1}, msgs[0].Payload)
	assert.Equal(t, []byte{2}, msgs[1].Payload)
}

func TestSendMessageRejectsEmptyRecipient(t *testing.T) {
	m := NewMessaging(8)
	defer m.Close()

	err := m.SendMessage(context.Background(), Message{FromAgent: "agent-1"})
	require.Error(t, err)
}

func TestRegistrySendMessageDeliversToRegisteredAgent(t *testing.T) {
	r := NewRegistry(4)
	r.Register("agent-1", types.RoleWorker, nil)
	r.Register("agent-2", types.RoleWorker, nil)

	require.NoError(t, r.SendMessage(context.Background(), "agent-1", "agent-2", "notify", []byte("go")))
	waitForPending(t, r.messaging, "agent-2", 1)

	msgs := r.GetMessages("agent-2")
	require.Len(t, msgs, 1)
	assert.Equal(t, "notify", msgs[0].Type)
}

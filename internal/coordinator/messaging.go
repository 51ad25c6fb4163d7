package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/cortexmesh/core/pkg/types"
)

// Message is one inter-agent message passed through a recipient's inbox.
type Message struct {
	ID        string    `json:"id"`
	FromAgent string    `json:"from_agent"`
	ToAgent   string    `json:"to_agent"`
	Type      string    `json:"type"`
	Payload   []byte    `json:"payload"`
	SentAt    time.Time `json:"sent_at"`
}

// inbox is a bounded, drop-oldest FIFO of messages for one agent.
type inbox struct {
	mu       sync.Mutex
	messages []Message
	capacity int
	dropped  uint64
}

func newInbox(capacity int) *inbox {
	if capacity <= 0 {
		capacity = 256
	}
	return &inbox{capacity: capacity}
}

func (ib *inbox) push(m Message) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if len(ib.messages) >= ib.capacity {
		ib.messages = ib.messages[1:]
		ib.dropped++
	}
	ib.messages = append(ib.messages, m)
}

func (ib *inbox) drain() []Message {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if len(ib.messages) == 0 {
		return nil
	}
	out := ib.messages
	ib.messages = nil
	return out
}

func (ib *inbox) len() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return len(ib.messages)
}

// Messaging is the inter-agent message bus: SendMessage
// publishes onto a watermill gochannel topic named for the recipient,
// GetMessages drains that agent's bounded, drop-oldest inbox. One
// watermill topic per agent inbox, adapted from internal/event/bus.go's
// gochannel wiring, but using watermill's Publish/Subscribe directly
// rather than the event package's direct-call subscriber model, since a
// message has exactly one intended reader and needs to survive until that
// reader calls GetMessages.
type Messaging struct {
	pubsub *gochannel.GoChannel

	mu      sync.RWMutex
	inboxes map[string]*inbox
	cancels map[string]context.CancelFunc

	inboxCapacity int
}

// NewMessaging creates a message bus with inboxCapacity slots per agent.
func NewMessaging(inboxCapacity int) *Messaging {
	return &Messaging{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 64,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		inboxes:       make(map[string]*inbox),
		cancels:       make(map[string]context.CancelFunc),
		inboxCapacity: inboxCapacity,
	}
}

func inboxTopic(agentID string) string {
	return "agent.inbox." + agentID
}

// EnsureInbox subscribes the bus to agentID's topic if it hasn't already.
// Messages published before an agent ever calls GetMessages are buffered
// by the inbox, not lost, so callers should EnsureInbox at registration
// time rather than only on first read.
func (m *Messaging) EnsureInbox(ctx context.Context, agentID string) error {
	m.mu.Lock()
	if _, ok := m.inboxes[agentID]; ok {
		m.mu.Unlock()
		return nil
	}
	ib := newInbox(m.inboxCapacity)
	m.inboxes[agentID] = ib
	subCtx, cancel := context.WithCancel(ctx)
	m.cancels[agentID] = cancel
	m.mu.Unlock()

	messages, err := m.pubsub.Subscribe(subCtx, inboxTopic(agentID))
	if err != nil {
		cancel()
		return types.Wrap(types.ErrIO, "subscribing to agent inbox", err)
	}

	go func() {
		for msg := range messages {
			var decoded Message
			if err := json.Unmarshal(msg.Payload, &decoded); err == nil {
				ib.push(decoded)
			}
			msg.Ack()
		}
	}()
	return nil
}

// CloseInbox cancels agentID's subscription, for agent deregistration.
func (m *Messaging) CloseInbox(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[agentID]; ok {
		cancel()
		delete(m.cancels, agentID)
	}
	delete(m.inboxes, agentID)
}

// SendMessage delivers msg to msg.ToAgent's inbox. The recipient must have
// an inbox (via EnsureInbox, normally called at Register time) or the
// message is silently dropped, matching gochannel's no-subscriber-no-
// delivery semantics — callers that need delivery guarantees should
// register the recipient first.
func (m *Messaging) SendMessage(ctx context.Context, msg Message) error {
	if msg.ToAgent == "" {
		return types.NewError(types.ErrInvalidInput, "message has no recipient agent")
	}
	if msg.ID == "" {
		msg.ID = watermill.NewUUID()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	if err := m.EnsureInbox(ctx, msg.ToAgent); err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return types.Wrap(types.ErrInvalidInput, "encoding message payload", err)
	}

	wmMsg := watermill.NewMessage(msg.ID, payload)
	if err := m.pubsub.Publish(inboxTopic(msg.ToAgent), wmMsg); err != nil {
		return types.Wrap(types.ErrIO, "publishing message", err)
	}
	return nil
}

// GetMessages drains agentID's inbox and returns its messages oldest
// first. Returns nil if the agent has no inbox or nothing queued.
func (m *Messaging) GetMessages(agentID string) []Message {
	m.mu.RLock()
	ib, ok := m.inboxes[agentID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return ib.drain()
}

// PendingCount reports how many undelivered messages are queued for agentID.
func (m *Messaging) PendingCount(agentID string) int {
	m.mu.RLock()
	ib, ok := m.inboxes[agentID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return ib.len()
}

// Close tears down every inbox subscription and the underlying pubsub.
func (m *Messaging) Close() error {
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()
	return m.pubsub.Close()
}

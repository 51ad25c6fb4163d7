package types

import "time"

// AgentRole is an agent's registered role. The memory pool does not consult
// it: Hierarchical entries are checked like Private ones (origin agent or
// ACL).
type AgentRole string

const (
	RoleWorker       AgentRole = "worker"
	RoleOrchestrator AgentRole = "orchestrator"
	RoleSpecialist   AgentRole = "specialist"
)

// AgentContext is the registered identity and capability set of one agent.
type AgentContext struct {
	AgentID      string            `json:"agent_id"`
	Role         AgentRole         `json:"role"`
	Capabilities map[string]bool   `json:"capabilities,omitempty"`
	LastActive   time.Time         `json:"last_active"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Namespace returns the derived per-agent namespace.
func (a *AgentContext) Namespace() string {
	return AgentNamespace(a.AgentID)
}

// AgentMetrics tracks per-agent operational counters, updated with atomic
// increments on the hot path (no locks).
type AgentMetrics struct {
	SearchCount       uint64    `json:"search_count"`
	AvgSearchLatency  float64   `json:"avg_search_latency_ms"`
	CacheHitRate      float64   `json:"cache_hit_rate"`
	Errors            uint64    `json:"errors"`
	LastActive        time.Time `json:"last_active"`
}

// MessageKind tags the payload of an inter-agent message.
type MessageKind string

// Message is an entry in an agent's bounded inbox.
type Message struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Kind      MessageKind `json:"kind"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

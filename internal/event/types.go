package event

import "github.com/cortexmesh/core/pkg/types"

// SessionCreatedData is the payload for session.created events.
type SessionCreatedData struct {
	Session *types.Session `json:"session"`
}

// SessionExpiredData is the payload for session.expired events.
type SessionExpiredData struct {
	SessionID string `json:"session_id"`
}

// SessionAbandonedData is the payload for session.abandoned events.
type SessionAbandonedData struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// LockGrantedData is the payload for lock.granted events.
type LockGrantedData struct {
	LockID        string        `json:"lock_id"`
	EntityID      string        `json:"entity_id"`
	Mode          types.LockMode `json:"mode"`
	HolderSession string        `json:"holder_session"`
}

// LockReleasedData is the payload for lock.released events.
type LockReleasedData struct {
	LockID   string `json:"lock_id"`
	EntityID string `json:"entity_id"`
}

// DeadlockDetectedData is the payload for lock.deadlock_detected events.
type DeadlockDetectedData struct {
	VictimSession string   `json:"victim_session"`
	Cycle         []string `json:"cycle"`
}

// MergeCompletedData is the payload for merge.completed events.
type MergeCompletedData struct {
	SessionID      string `json:"session_id"`
	Success        bool   `json:"success"`
	ChangesApplied int    `json:"changes_applied"`
	Conflicts      int    `json:"conflicts"`
}

// ConflictDetectedData is the payload for merge.conflict_detected events.
type ConflictDetectedData struct {
	SessionID string             `json:"session_id"`
	Conflict  types.Conflict     `json:"conflict"`
}

// MemoryAccessDeniedData is the payload for memory.access_denied events.
type MemoryAccessDeniedData struct {
	AgentID string `json:"agent_id"`
	Key     string `json:"key"`
}

// MemoryPolicyChangedData is the payload for memory.policy_changed events.
type MemoryPolicyChangedData struct {
	Key string `json:"key"`
}

// SearchCompletedData is the payload for search.completed events.
type SearchCompletedData struct {
	AgentID       string `json:"agent_id"`
	AgentsQueried int    `json:"agents_queried"`
	ResultCount   int    `json:"result_count"`
	LatencyMS     int64  `json:"latency_ms"`
}

// MergeStartedData is the payload for merge.started events.
type MergeStartedData struct {
	SessionID string `json:"session_id"`
}

// AgentRegisteredData is the payload for agent.registered events.
type AgentRegisteredData struct {
	Agent *types.AgentContext `json:"agent"`
}

// AgentUnregisteredData is the payload for agent.unregistered events.
type AgentUnregisteredData struct {
	AgentID string `json:"agent_id"`
}

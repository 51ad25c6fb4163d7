package event

import "github.com/cortexmesh/core/pkg/types"

// Typed publish helpers. Each wraps Publish with the event's real payload
// struct so callers stop hand-assembling Event{Type: ..., Data: ...}
// literals (and stop guessing which struct a given EventType expects).

// PublishSessionCreated announces that a new session was opened.
func PublishSessionCreated(sess *types.Session) {
	Publish(Event{Type: SessionCreated, Data: SessionCreatedData{Session: sess}})
}

// PublishSessionUpdated announces a status or TTL change on an existing session.
func PublishSessionUpdated(sess *types.Session) {
	Publish(Event{Type: SessionUpdated, Data: SessionCreatedData{Session: sess}})
}

// PublishSessionMerging announces that a session has entered the merging state.
func PublishSessionMerging(sess *types.Session) {
	Publish(Event{Type: SessionMerging, Data: SessionCreatedData{Session: sess}})
}

// PublishSessionExpired announces that a session's TTL lapsed.
func PublishSessionExpired(sessionID string) {
	Publish(Event{Type: SessionExpired, Data: SessionExpiredData{SessionID: sessionID}})
}

// PublishSessionAbandoned announces that an agent abandoned a session before merging.
func PublishSessionAbandoned(sessionID, reason string) {
	Publish(Event{Type: SessionAbandoned, Data: SessionAbandonedData{SessionID: sessionID, Reason: reason}})
}

// PublishMergeStarted announces that a session's merge has begun.
func PublishMergeStarted(sessionID string) {
	Publish(Event{Type: MergeStarted, Data: MergeStartedData{SessionID: sessionID}})
}

// PublishConflictDetected announces a single conflict raised while merging a session.
func PublishConflictDetected(sessionID string, conflict types.Conflict) {
	Publish(Event{Type: ConflictDetected, Data: ConflictDetectedData{SessionID: sessionID, Conflict: conflict}})
}

// PublishMergeCompleted announces the final outcome of a session merge.
func PublishMergeCompleted(sessionID string, success bool, changesApplied, conflicts int) {
	Publish(Event{Type: MergeCompleted, Data: MergeCompletedData{
		SessionID: sessionID, Success: success, ChangesApplied: changesApplied, Conflicts: conflicts,
	}})
}

// PublishSessionMerged announces a session's terminal merge outcome, mirroring
// MergeCompleted but scoped to the session lifecycle rather than the merge engine.
func PublishSessionMerged(sessionID string, success bool, changesApplied, conflicts int) {
	Publish(Event{Type: SessionMerged, Data: MergeCompletedData{
		SessionID: sessionID, Success: success, ChangesApplied: changesApplied, Conflicts: conflicts,
	}})
}

// PublishLockGranted announces that a lock request was granted.
func PublishLockGranted(lock *types.Lock) {
	Publish(Event{Type: LockGranted, Data: LockGrantedData{
		LockID: lock.LockID, EntityID: lock.EntityID, Mode: lock.Mode, HolderSession: lock.HolderSession,
	}})
}

// PublishLockReleased announces that a lock was released, whether by its
// holder or by deadlock/timeout resolution.
func PublishLockReleased(lockID, entityID string) {
	Publish(Event{Type: LockReleased, Data: LockReleasedData{LockID: lockID, EntityID: entityID}})
}

// PublishDeadlockDetected announces that a wait-for cycle was broken and names
// the victim whose pending request was failed.
func PublishDeadlockDetected(victimSession string, cycle []string) {
	Publish(Event{Type: DeadlockDetected, Data: DeadlockDetectedData{VictimSession: victimSession, Cycle: cycle}})
}

// PublishAgentRegistered announces that an agent joined the coordinator registry.
func PublishAgentRegistered(agent *types.AgentContext) {
	Publish(Event{Type: AgentRegistered, Data: AgentRegisteredData{Agent: agent}})
}

// PublishAgentUnregistered announces that an agent left the coordinator registry.
func PublishAgentUnregistered(agentID string) {
	Publish(Event{Type: AgentUnregistered, Data: AgentUnregisteredData{AgentID: agentID}})
}

// PublishSearchCompleted announces that a federated search request finished.
func PublishSearchCompleted(agentID string, agentsQueried, resultCount int, latencyMS int64) {
	Publish(Event{Type: SearchCompleted, Data: SearchCompletedData{
		AgentID: agentID, AgentsQueried: agentsQueried, ResultCount: resultCount, LatencyMS: latencyMS,
	}})
}

// PublishMemoryPolicyChanged announces that a memory entry's access policy was set or updated.
func PublishMemoryPolicyChanged(key string) {
	Publish(Event{Type: MemoryPolicyChanged, Data: MemoryPolicyChangedData{Key: key}})
}

// PublishMemoryAccessDenied announces that an agent was refused access to a memory entry.
func PublishMemoryAccessDenied(agentID, key string) {
	Publish(Event{Type: MemoryAccessDenied, Data: MemoryAccessDeniedData{AgentID: agentID, Key: key}})
}

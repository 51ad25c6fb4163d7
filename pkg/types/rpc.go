package types

import "time"

// This file defines the request/response shapes of the tool-level RPC
// surface. The MCP/JSON-RPC transport and validation live outside this
// module; these are the Go-native shapes an external dispatcher marshals
// to and from after validating input.

// SessionCreateRequest is the shape of `session.create`.
type SessionCreateRequest struct {
	AgentID        string
	IsolationLevel IsolationLevel
	ScopePaths     []string
	TTLSeconds     int64
}

// SessionCreateResult is the shape of `session.create`'s response.
type SessionCreateResult struct {
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionUpdateRequest is the shape of `session.update`.
type SessionUpdateRequest struct {
	SessionID string
	Status    *SessionStatus
	ExtendTTL *time.Duration
}

// SessionUpdateResult is the shape of `session.update`'s response.
type SessionUpdateResult struct {
	SessionID     string
	Status        SessionStatus
	NewExpiresAt  time.Time
}

// MergeStrategy selects how the Diff/Merge Engine resolves conflicts.
type MergeStrategy string

const (
	StrategyAutoMerge     MergeStrategy = "auto"
	StrategyManual        MergeStrategy = "manual"
	StrategyPreferSession MergeStrategy = "prefer_session"
	StrategyPreferMain    MergeStrategy = "prefer_main"
	StrategyThreeWay      MergeStrategy = "three_way"
)

// MergeRequest is the shape of `session.merge`.
type MergeRequest struct {
	SessionID       string
	Strategy        MergeStrategy
	VerifySemantics bool
	TargetNamespace string
}

// MergeResult is the shape of `session.merge`'s response.
type MergeResult struct {
	Success            bool
	ChangesApplied      int
	ChangesRejected     int
	Conflicts           []Conflict
	DurationMS          int64
	VerificationPassed  *bool
	MergedEntities      []string
}

// SessionAbandonRequest is the shape of `session.abandon`.
type SessionAbandonRequest struct {
	SessionID string
	Reason    string
}

// SessionAbandonResult is the shape of `session.abandon`'s response.
type SessionAbandonResult struct {
	SessionID string
	Abandoned bool
}

// LockAcquireRequest is the shape of `lock.acquire`.
type LockAcquireRequest struct {
	SessionID      string
	EntityID       string
	EntityType     EntityKind
	Mode           LockMode
	TimeoutSeconds int64
	Metadata       map[string]string
}

// LockAcquireResult is the shape of `lock.acquire`'s response.
type LockAcquireResult struct {
	LockID    string
	Acquired  bool
	ExpiresAt time.Time
}

// LockReleaseResult is the shape of `lock.release`'s response.
type LockReleaseResult struct {
	Released bool
}

// AgentRegisterRequest is the shape of `agent.register`.
type AgentRegisterRequest struct {
	AgentID      string
	Role         AgentRole
	Capabilities []string
}

// Embedder is the interface the core consumes for turning source text into
// vectors. Concrete embedding model adapters are out of scope for this
// module and are implemented by callers.
type Embedder interface {
	Embed(text string) ([]float32, error)
	Dim() int
}

package types

// ConflictKind classifies why a change could not be merged cleanly.
type ConflictKind string

const (
	ConflictAddAdd             ConflictKind = "AddAdd"
	ConflictModifyModify       ConflictKind = "ModifyModify"
	ConflictDeleteModify       ConflictKind = "DeleteModify"
	ConflictSemantic           ConflictKind = "Semantic"
	ConflictSignatureConflict  ConflictKind = "SignatureConflict"
	ConflictDependencyConflict ConflictKind = "DependencyConflict"
)

// Resolution is an auto-computed or strategy-applied fix for a conflict.
type Resolution struct {
	Content []byte `json:"content"`
	Source  string `json:"source"` // "session" | "main" | "merged"
}

// Conflict describes one entity whose divergent versions could not (yet)
// be reconciled automatically.
type Conflict struct {
	ConflictID     string       `json:"conflict_id"`
	EntityID       string       `json:"entity_id"`
	Kind           ConflictKind `json:"kind"`
	FilePath       string       `json:"file_path,omitempty"`
	BaseVersion    *uint32      `json:"base_version,omitempty"`
	SessionVersion *uint32      `json:"session_version,omitempty"`
	MainVersion    *uint32      `json:"main_version,omitempty"`
	Resolution     *Resolution  `json:"resolution,omitempty"`
	DependencyPath []string     `json:"dependency_path,omitempty"`
}

// Resolved reports whether the conflict carries an auto-computed
// resolution (and is therefore not blocking a merge).
func (c *Conflict) Resolved() bool {
	return c.Resolution != nil
}

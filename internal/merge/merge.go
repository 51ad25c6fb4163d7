// Package merge implements the Diff/Merge Engine: classify each touched
// entity against its recorded base, line-merge non-conflicting hunks using
// a proper three-way diff, promote signature/dependency conflicts via
// semantic analysis, apply the result transactionally, and verify the
// resulting dependency graph stays acyclic.
package merge

import (
	"bytes"
	"context"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/cortexmesh/core/internal/event"
	"github.com/cortexmesh/core/internal/ids"
	"github.com/cortexmesh/core/internal/logging"
	corestore "github.com/cortexmesh/core/internal/store"
	"github.com/cortexmesh/core/pkg/types"
)

// log returns the merge engine's component-tagged logger, read fresh each
// call so a later logging.Init reconfiguration takes effect immediately.
func log() zerolog.Logger {
	return logging.For(logging.ComponentMerge)
}

// Store is the persistence and graph-walk surface the merge engine needs;
// internal/store implements it.
type Store interface {
	GetEntity(ctx context.Context, key types.EntityKey) (*types.Entity, error)
	PutEntity(ctx context.Context, e *types.Entity) error
	PutDependencyEdge(ctx context.Context, e types.DependencyEdge) error
	HasDependencyCycle(ctx context.Context, start, namespace string) ([]string, error)
	Transaction(ctx context.Context, scope string, f func(ctx context.Context) error) error
}

// SessionReader is the subset of the Session Registry the merge engine
// reads from; internal/session.Service implements it.
type SessionReader interface {
	FindSessionChanges(ctx context.Context, sessionID string) ([]*types.Change, error)
}

// Engine implements session.Merger over a Store and SessionReader.
type Engine struct {
	store    Store
	sessions SessionReader

	// signatureDistanceThreshold is the maximum levenshtein distance,
	// relative to name length, under which two qualified names are treated
	// as "the same symbol renamed" rather than a different symbol.
	signatureDistanceThreshold float64
}

// New creates a Diff/Merge Engine.
func New(store Store, sessions SessionReader) *Engine {
	return &Engine{store: store, sessions: sessions, signatureDistanceThreshold: 0.3}
}

// Merge runs the full merge pipeline: classify, line-merge, semantic
// analysis, strategy application, transactional apply, post-apply cycle
// verification.
func (e *Engine) Merge(ctx context.Context, req types.MergeRequest) (*types.MergeResult, error) {
	changes, err := e.sessions.FindSessionChanges(ctx, req.SessionID)
	if err != nil {
		return nil, types.Wrap(types.ErrIO, "reading session change journal", err)
	}
	if len(changes) == 0 {
		return &types.MergeResult{Success: true}, nil
	}

	event.PublishMergeStarted(req.SessionID)

	var conflicts []types.Conflict
	var applied []*plannedApply

	for _, change := range changes {
		plan, conflict, err := e.planChange(ctx, change)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			continue // genuine no-op: session's edit already matches main
		}
		if conflict != nil {
			resolved := e.applyStrategy(req.Strategy, conflict, plan)
			log().Debug().Str("session_id", req.SessionID).Str("entity_id", conflict.EntityID).
				Str("kind", string(conflict.Kind)).Bool("resolved", resolved).Msg("conflict classified")
			if !resolved {
				conflicts = append(conflicts, *conflict)
				continue
			}
			conflicts = append(conflicts, *conflict) // recorded even when auto-resolved, for the caller's audit trail
		}
		applied = append(applied, plan)
	}

	if req.Strategy == types.StrategyManual {
		blocking := unresolvedCount(conflicts)
		if blocking > 0 {
			return &types.MergeResult{Success: false, Conflicts: conflicts, ChangesRejected: blocking},
				types.NewError(types.ErrUnresolvedConflicts, "manual strategy requires resolving all conflicts first")
		}
	}

	var merr *multierror.Error
	var mergedEntities []string
	txErr := e.store.Transaction(ctx, "merge:"+req.SessionID, func(ctx context.Context) error {
		for _, p := range applied {
			if p.conflict != nil && !p.conflict.Resolved() {
				continue // left for the caller to resolve and re-merge
			}
			if p.finalEntity == nil {
				continue // drop: prefer_main, or auto-merge kept main's side untouched
			}
			if err := e.store.PutEntity(ctx, p.finalEntity); err != nil {
				merr = multierror.Append(merr, err)
				continue
			}
			mergedEntities = append(mergedEntities, p.finalEntity.EntityID)
		}
		if merr != nil {
			return merr
		}
		return nil
	})

	result := &types.MergeResult{
		ChangesApplied:  len(mergedEntities),
		ChangesRejected: len(applied) - len(mergedEntities),
		Conflicts:       conflicts,
		MergedEntities:  mergedEntities,
	}

	if txErr != nil {
		result.Success = false
		return result, types.Wrap(types.ErrTransactionAborted, "applying merge", txErr)
	}

	if req.VerifySemantics {
		passed := true
		for _, entityID := range mergedEntities {
			cycle, err := e.store.HasDependencyCycle(ctx, entityID, req.TargetNamespace)
			if err == nil && len(cycle) > 0 {
				passed = false
				conflicts = append(conflicts, types.Conflict{
					ConflictID: ids.NewUUID(), EntityID: entityID,
					Kind: types.ConflictDependencyConflict, DependencyPath: cycle,
				})
				event.PublishConflictDetected(req.SessionID, conflicts[len(conflicts)-1])
			}
		}
		result.VerificationPassed = &passed
		result.Conflicts = conflicts
	}

	result.Success = len(unresolvedOnly(conflicts)) == 0
	log().Info().Str("session_id", req.SessionID).Bool("success", result.Success).
		Int("applied", result.ChangesApplied).Int("conflicts", len(conflicts)).Msg("merge completed")
	event.PublishMergeCompleted(req.SessionID, result.Success, result.ChangesApplied, len(conflicts))
	return result, nil
}

func unresolvedCount(conflicts []types.Conflict) int {
	n := 0
	for _, c := range conflicts {
		if !c.Resolved() {
			n++
		}
	}
	return n
}

func unresolvedOnly(conflicts []types.Conflict) []types.Conflict {
	var out []types.Conflict
	for _, c := range conflicts {
		if !c.Resolved() {
			out = append(out, c)
		}
	}
	return out
}

// plannedApply is the result of classifying one change. finalEntity is what
// gets persisted absent any strategy override. autoKeep is what
// StrategyAutoMerge/ThreeWay resolves a ConflictDeleteModify to when
// "keeping the modification" -- which isn't always finalEntity, since for a
// session-delete-vs-main-edit collision finalEntity is the tombstone the
// session asked for, while keeping the modification means dropping it
// (autoKeep nil, main's edit survives untouched).
type plannedApply struct {
	finalEntity *types.Entity
	conflict    *types.Conflict
	autoKeep    *types.Entity
	mainContent []byte // main's content at classify time, for AddAdd identity checks
}

// planChange classifies one change against base/session/main and line-
// merges it, returning a conflict if classification requires one. A nil
// *plannedApply with a nil conflict means the change is a genuine no-op.
func (e *Engine) planChange(ctx context.Context, change *types.Change) (*plannedApply, *types.Conflict, error) {
	mainEntity, err := e.store.GetEntity(ctx, types.EntityKey{EntityID: change.EntityID, Namespace: types.MainNamespace})
	notFound := err != nil
	if err != nil {
		if kind, ok := types.KindOf(err); !ok || kind != types.ErrEntityNotFound {
			return nil, nil, types.Wrap(types.ErrIO, "reading main entity", err)
		}
	}

	switch change.Op {
	case types.OpCreate:
		if !notFound {
			// Both session and main created the same entity id: AddAdd.
			conflict := &types.Conflict{
				ConflictID: ids.NewUUID(), EntityID: change.EntityID, Kind: types.ConflictAddAdd,
			}
			return &plannedApply{finalEntity: entityFromChange(change), conflict: conflict, mainContent: mainEntity.Content}, conflict, nil
		}
		return &plannedApply{finalEntity: entityFromChange(change)}, nil, nil

	case types.OpDelete:
		if notFound {
			return &plannedApply{finalEntity: tombstoneFromChange(change)}, nil, nil
		}
		if mainEntity.Version != change.BaseVersion {
			// Session deletes, main diverged: "keep the modification"
			// under auto-merge means dropping this delete, not applying it.
			conflict := &types.Conflict{
				ConflictID: ids.NewUUID(), EntityID: change.EntityID, Kind: types.ConflictDeleteModify,
			}
			return &plannedApply{finalEntity: tombstoneFromChange(change), conflict: conflict, autoKeep: nil}, conflict, nil
		}
		return &plannedApply{finalEntity: tombstoneFromChange(change)}, nil, nil

	default: // OpUpdate
		if notFound {
			if change.BaseVersion > 0 {
				// The session branched off an entity that existed at
				// BaseVersion, but main no longer has it: another session
				// deleted it. Resurrecting it silently would undo that
				// delete, so this is a conflict, not a fresh create.
				resurrected := entityFromChange(change)
				conflict := &types.Conflict{
					ConflictID: ids.NewUUID(), EntityID: change.EntityID, Kind: types.ConflictDeleteModify,
				}
				return &plannedApply{finalEntity: resurrected, conflict: conflict, autoKeep: resurrected}, conflict, nil
			}
			return &plannedApply{finalEntity: entityFromChange(change)}, nil, nil
		}
		if mainEntity.Version == change.BaseVersion {
			// main unchanged since the session branched: fast-forward.
			return &plannedApply{finalEntity: entityFromChange(change)}, nil, nil
		}
		if mainEntity.ContentHash == corestore.ContentHashOf(change.NewContent) {
			// main diverged from base but already holds exactly what the
			// session is trying to write (e.g. two sessions converged on
			// the same fix independently): nothing to merge.
			return nil, nil, nil
		}

		merged, clean := lineMerge(string(change.BaseContent), string(change.NewContent), string(mainEntity.Content))
		final := entityFromChange(change)
		final.Content = []byte(merged)
		final.Version = mainEntity.Version + 1

		if clean {
			return &plannedApply{finalEntity: final}, nil, nil
		}

		kind := types.ConflictModifyModify
		if e.looksLikeSignatureConflict(string(change.NewContent), string(mainEntity.Content)) {
			kind = types.ConflictSignatureConflict
		}
		conflict := &types.Conflict{ConflictID: ids.NewUUID(), EntityID: change.EntityID, Kind: kind}
		return &plannedApply{finalEntity: final, conflict: conflict, autoKeep: final, mainContent: mainEntity.Content}, conflict, nil
	}
}

func entityFromChange(c *types.Change) *types.Entity {
	return &types.Entity{
		EntityID: c.EntityID, Namespace: types.MainNamespace, Kind: c.EntityType,
		Content: c.NewContent, Version: c.BaseVersion + 1,
	}
}

func tombstoneFromChange(c *types.Change) *types.Entity {
	e := entityFromChange(c)
	e.Tombstone = true
	return e
}

// baseDiff records, relative to a shared base text split into lines, which
// base-line indexes one side deleted and which lines it inserted at each
// base-line position -- the two primitives a three-way line merge needs,
// both expressed in terms of the same base so they can be recombined.
type baseDiff struct {
	deletedAt map[int]bool
	insertsAt map[int][]string
}

func computeBaseDiff(dmp *diffmatchpatch.DiffMatchPatch, base, other string) baseDiff {
	a, b, lines := dmp.DiffLinesToChars(base, other)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	bd := baseDiff{deletedAt: map[int]bool{}, insertsAt: map[int][]string{}}
	pos := 0
	for _, d := range diffs {
		ls := splitKeepEnds(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			pos += len(ls)
		case diffmatchpatch.DiffDelete:
			for i := range ls {
				bd.deletedAt[pos+i] = true
			}
			pos += len(ls)
		case diffmatchpatch.DiffInsert:
			bd.insertsAt[pos] = append(bd.insertsAt[pos], ls...)
		}
	}
	return bd
}

// splitKeepEnds splits s into lines, each retaining its trailing newline,
// so hunks can be recombined by plain concatenation.
func splitKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// lineMerge performs a real three-way merge: base->session and base->main
// are diffed independently against the shared base, then recombined hunk by
// hunk. A base line untouched by both sides passes through once; a line (or
// insertion) touched by only one side takes that side's version; content
// inserted by both sides at the same position survives if identical and is
// flagged as a collision (not clean) otherwise.
func lineMerge(baseContent, sessionContent, mainContent string) (merged string, clean bool) {
	if baseContent == "" {
		// No recorded base to diff against (legacy journal entry, or the
		// caller never captured one): a two-way diff against main can
		// silently drop content main gained independently, so refuse to
		// guess rather than risk losing it -- defer to the conflict path
		// unless the two sides already agree outright.
		return sessionContent, sessionContent == mainContent
	}

	dmp := diffmatchpatch.New()
	sessionDiff := computeBaseDiff(dmp, baseContent, sessionContent)
	mainDiff := computeBaseDiff(dmp, baseContent, mainContent)

	baseLines := splitKeepEnds(baseContent)
	var out strings.Builder
	conflict := false

	for p := 0; p <= len(baseLines); p++ {
		sIns, mIns := sessionDiff.insertsAt[p], mainDiff.insertsAt[p]
		switch {
		case len(sIns) == 0 && len(mIns) == 0:
		case len(sIns) == 0:
			writeLines(&out, mIns)
		case len(mIns) == 0:
			writeLines(&out, sIns)
		case equalLines(sIns, mIns):
			writeLines(&out, sIns)
		default:
			conflict = true
			writeLines(&out, sIns)
			writeLines(&out, mIns)
		}

		if p == len(baseLines) {
			break
		}
		if !sessionDiff.deletedAt[p] && !mainDiff.deletedAt[p] {
			out.WriteString(baseLines[p])
		}
		// If either side deleted base line p it's dropped from the merge;
		// a replacement, if either side wrote one, is emitted as an insert
		// at p+1 on the next iteration.
	}

	return out.String(), !conflict
}

func writeLines(out *strings.Builder, lines []string) {
	for _, l := range lines {
		out.WriteString(l)
	}
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// looksLikeSignatureConflict uses a levenshtein-distance heuristic on the
// first non-blank line of each side (a crude stand-in for an extracted
// signature) to decide whether the two sides are "the same symbol renamed"
// (promote to SignatureConflict) versus a generic content collision
// (ModifyModify).
func (e *Engine) looksLikeSignatureConflict(sessionContent, mainContent string) bool {
	sLine := firstLine(sessionContent)
	mLine := firstLine(mainContent)
	if sLine == "" || mLine == "" || sLine == mLine {
		return false
	}
	dist := levenshtein.ComputeDistance(sLine, mLine)
	maxLen := len(sLine)
	if len(mLine) > maxLen {
		maxLen = len(mLine)
	}
	if maxLen == 0 {
		return false
	}
	return float64(dist)/float64(maxLen) < e.signatureDistanceThreshold
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

// applyStrategy attempts to resolve conflict per req.Strategy, mutating
// plan.finalEntity and setting conflict.Resolution when successful.
// Returns whether the conflict was resolved.
func (e *Engine) applyStrategy(strategy types.MergeStrategy, conflict *types.Conflict, plan *plannedApply) bool {
	switch strategy {
	case types.StrategyPreferSession:
		conflict.Resolution = &types.Resolution{Content: plan.finalEntity.Content, Source: "session"}
		return true
	case types.StrategyPreferMain:
		// Leave main untouched: drop the session's change.
		conflict.Resolution = &types.Resolution{Source: "main"}
		plan.finalEntity = nil
		return true
	case types.StrategyAutoMerge, types.StrategyThreeWay:
		switch conflict.Kind {
		case types.ConflictModifyModify:
			conflict.Resolution = &types.Resolution{Content: plan.finalEntity.Content, Source: "merged"}
			return true
		case types.ConflictDeleteModify:
			plan.finalEntity = plan.autoKeep
			var content []byte
			if plan.autoKeep != nil {
				content = plan.autoKeep.Content
			}
			conflict.Resolution = &types.Resolution{Content: content, Source: "merged"}
			return true
		case types.ConflictAddAdd:
			if bytes.Equal(plan.finalEntity.Content, plan.mainContent) {
				conflict.Resolution = &types.Resolution{Content: plan.finalEntity.Content, Source: "merged"}
				return true
			}
			return false
		default:
			return false
		}
	default: // manual
		return false
	}
}

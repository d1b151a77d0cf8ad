// Package gc implements reachable-set garbage collection (spec §4.I):
// commits no longer reachable from any ref or detached HEAD are pruned,
// with a grace period that's longer for commits retained as compression
// sources (archive_retention_days) than for plain orphans
// (orphan_retention_days).
package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/tractvcs/tract/internal/engine"
	"github.com/tractvcs/tract/internal/model"
	"github.com/tractvcs/tract/internal/store"
)

// Options configures one gc call (spec §4.I signature).
type Options struct {
	OrphanRetentionDays int
	// ArchiveRetentionDays, if nil, means compression-source commits are
	// never pruned by age. If set, they're pruned once older than this
	// many days, same as an orphan would be.
	ArchiveRetentionDays *int
	// Branch, if set, scopes reachability to just that branch's tip
	// instead of every branch (spec §4.I "branch?").
	Branch string
}

// Result reports what one gc call removed (spec §4.I GCResult).
type Result struct {
	CommitsRemoved       int
	BlobsRemoved         int
	TokensFreed          int
	SourceCommitsRemoved int
	DurationSeconds      float64
}

// Manager runs gc over one tract.
type Manager struct {
	st      store.Store
	engine  *engine.Engine
	tractID string
}

// New builds a gc manager bound to eng's tract.
func New(st store.Store, eng *engine.Engine) *Manager {
	return &Manager{st: st, engine: eng, tractID: eng.TractID()}
}

const defaultOrphanRetentionDays = 7

// Run executes one GC pass (spec §4.I steps 1-5).
func (m *Manager) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	orphanDays := opts.OrphanRetentionDays
	if orphanDays <= 0 {
		orphanDays = defaultOrphanRetentionDays
	}

	reachable, err := m.reachableSet(ctx, opts.Branch)
	if err != nil {
		return nil, fmt.Errorf("gc: reachable set: %w", err)
	}

	all, err := m.st.Commits().GetByTract(ctx, m.tractID, 0)
	if err != nil {
		return nil, fmt.Errorf("gc: list commits: %w", err)
	}

	archiveSources, err := m.compressionSourceSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("gc: compression sources: %w", err)
	}

	now := time.Now()
	var toDelete []*model.Commit
	for _, c := range all {
		if reachable[c.CommitHash] {
			continue
		}
		ageDays := now.Sub(c.CreatedAt).Hours() / 24
		if archiveSources[c.CommitHash] {
			if opts.ArchiveRetentionDays == nil {
				continue // preserved indefinitely
			}
			if ageDays < float64(*opts.ArchiveRetentionDays) {
				continue
			}
		} else if ageDays < float64(orphanDays) {
			continue
		}
		toDelete = append(toDelete, c)
	}

	result := &Result{}
	blobCandidates := make(map[string]bool)
	for _, c := range toDelete {
		if err := m.st.Commits().Delete(ctx, c.CommitHash); err != nil {
			return nil, fmt.Errorf("gc: delete commit %s: %w", c.CommitHash, err)
		}
		result.CommitsRemoved++
		result.TokensFreed += c.TokenCount
		if archiveSources[c.CommitHash] {
			result.SourceCommitsRemoved++
		}
		blobCandidates[c.ContentHash] = true
	}
	for hash := range blobCandidates {
		removed, err := m.st.Blobs().DeleteIfOrphaned(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("gc: delete blob %s: %w", hash, err)
		}
		if removed {
			result.BlobsRemoved++
		}
	}

	result.DurationSeconds = time.Since(start).Seconds()
	return result, nil
}

// reachableSet implements spec §4.I step 1: BFS from every branch tip (or
// just opts.Branch) and from detached HEAD, through parent_hash and
// commit_parents. Operation-event result commits do not add reachability
// by themselves.
func (m *Manager) reachableSet(ctx context.Context, scopeBranch string) (map[string]bool, error) {
	var tips []string
	if scopeBranch != "" {
		head, err := m.st.Refs().Get(ctx, "HEAD/"+scopeBranch)
		if err == nil {
			tips = append(tips, head)
		}
	} else {
		refs, err := m.st.Refs().List(ctx, "HEAD/")
		if err != nil {
			return nil, err
		}
		for _, r := range refs {
			if r.TractID == m.tractID {
				tips = append(tips, r.CommitHash)
			}
		}
		if m.engine.Detached() {
			if head, err := m.engine.CurrentHead(ctx); err == nil && head != "" {
				tips = append(tips, head)
			}
		}
	}

	seen := make(map[string]bool)
	queue := append([]string(nil), tips...)
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		parents, err := m.st.ParentsOf(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("parents of %s: %w", h, err)
		}
		queue = append(queue, parents...)
	}
	return seen, nil
}

// compressionSourceSet collects every commit hash that was ever recorded
// as role=source in a compress operation event (spec §4.I step 3).
func (m *Manager) compressionSourceSet(ctx context.Context) (map[string]bool, error) {
	events, err := m.st.Events().ListEvents(ctx, m.tractID, model.EventCompress)
	if err != nil {
		return nil, err
	}
	sources := make(map[string]bool)
	for _, e := range events {
		commits, err := m.st.Events().GetCommitsForEvent(ctx, e.EventID)
		if err != nil {
			return nil, err
		}
		for _, oc := range commits {
			if oc.Role == model.RoleSource {
				sources[oc.CommitHash] = true
			}
		}
	}
	return sources, nil
}

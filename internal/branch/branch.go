// Package branch implements named refs, checkout, three-way/LLM-assisted
// merge, rebase, and import-commit (spec §4.G).
package branch

import (
	"context"
	"fmt"

	"github.com/tractvcs/tract/internal/compile"
	"github.com/tractvcs/tract/internal/engine"
	"github.com/tractvcs/tract/internal/model"
	"github.com/tractvcs/tract/internal/store"
)

// Manager is the branch/merge engine for one tract, sharing its commit
// engine and compiler so merge/rebase results flow through the same
// budget/cache-invalidation path as any other commit.
type Manager struct {
	st       store.Store
	compiler *compile.Compiler
	engine   *engine.Engine
	tractID  string
}

// New builds a branch manager bound to eng's tract.
func New(st store.Store, compiler *compile.Compiler, eng *engine.Engine) *Manager {
	return &Manager{st: st, compiler: compiler, engine: eng, tractID: eng.TractID()}
}

// CreateBranch implements spec §4.G branch(name, from_hash?): points a new
// ref at fromHash, or at the current active branch's HEAD if fromHash is
// empty.
func (m *Manager) CreateBranch(ctx context.Context, name, fromHash string) error {
	if fromHash == "" {
		head, err := m.engine.CurrentHead(ctx)
		if err != nil {
			return model.Wrap("branch", name, err)
		}
		fromHash = head
	} else if _, err := m.st.Commits().Get(ctx, fromHash); err != nil {
		return model.Wrap("branch", fromHash, err)
	}
	if err := m.st.Refs().Set(ctx, "HEAD/"+name, m.tractID, fromHash); err != nil {
		return model.Wrap("branch", name, err)
	}
	return nil
}

// Checkout implements spec §4.G checkout(name_or_hash): if nameOrHash
// resolves to an existing branch ref, it becomes the active branch;
// otherwise, if it resolves to a commit, HEAD detaches there.
func (m *Manager) Checkout(ctx context.Context, nameOrHash string) error {
	if _, err := m.st.Refs().Get(ctx, "HEAD/"+nameOrHash); err == nil {
		m.engine.CheckoutBranch(nameOrHash)
		m.compiler.Cache().Invalidate()
		return nil
	}
	if _, err := m.st.Commits().Get(ctx, nameOrHash); err == nil {
		m.engine.CheckoutDetached(nameOrHash)
		m.compiler.Cache().Invalidate()
		return nil
	}
	return model.Wrap("checkout", nameOrHash, model.ErrNotFound)
}

// ListBranches returns every "HEAD/<name>" ref for this tract, stripped of
// the HEAD/ prefix.
func (m *Manager) ListBranches(ctx context.Context) ([]string, error) {
	refs, err := m.st.Refs().List(ctx, "HEAD/")
	if err != nil {
		return nil, model.Wrap("list_branches", "", err)
	}
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.TractID != m.tractID {
			continue
		}
		names = append(names, r.RefName[len("HEAD/"):])
	}
	return names, nil
}

// ancestors walks parent_hash + commit_parents from head back to the root,
// returning the set of every reachable commit hash (inclusive of head).
func ancestors(ctx context.Context, st store.Store, head string) (map[string]bool, error) {
	seen := make(map[string]bool)
	queue := []string{head}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		parents, err := st.ParentsOf(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("ancestors: parents of %s: %w", h, err)
		}
		queue = append(queue, parents...)
	}
	return seen, nil
}

// lowestCommonAncestor walks both histories into sets and finds the
// nearest shared commit by intersecting (spec §4.G).
func lowestCommonAncestor(ctx context.Context, st store.Store, a, b string) (string, error) {
	aSet, err := ancestors(ctx, st, a)
	if err != nil {
		return "", err
	}
	bSet, err := ancestors(ctx, st, b)
	if err != nil {
		return "", err
	}
	// Walk b's first-parent chain (newest first via repeated ParentsOf[0])
	// to find the first commit also present in aSet -- the natural
	// "nearest" ancestor when there is a linear path.
	cursor := b
	for cursor != "" {
		if aSet[cursor] {
			return cursor, nil
		}
		parents, err := st.ParentsOf(ctx, cursor)
		if err != nil || len(parents) == 0 {
			break
		}
		cursor = parents[0]
	}
	// Fall back to any shared ancestor (covers the branch/first-parent edge
	// case where b's first-parent chain never crosses a's).
	for h := range bSet {
		if aSet[h] {
			return h, nil
		}
	}
	return "", nil
}

func isAncestor(ctx context.Context, st store.Store, candidate, of string) (bool, error) {
	set, err := ancestors(ctx, st, of)
	if err != nil {
		return false, err
	}
	return set[candidate], nil
}

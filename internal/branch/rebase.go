package branch

import (
	"context"
	"fmt"

	"github.com/tractvcs/tract/internal/compile"
	"github.com/tractvcs/tract/internal/engine"
	"github.com/tractvcs/tract/internal/model"
)

// RebaseResult reports what rebase produced.
type RebaseResult struct {
	NewHead     string
	ReplayedOld []string
	ReplayedNew []string
}

// Rebase implements spec §4.G rebase(onto, *, range?): replays the given
// range (default: every commit since the branch diverged from onto) on top
// of onto, each replayed commit getting a fresh hash since its parent_hash
// changed. Original commits become unreachable, candidates for GC.
func (m *Manager) Rebase(ctx context.Context, onto string, rangeCommits []string) (*RebaseResult, error) {
	if err := m.requireBranch("rebase"); err != nil {
		return nil, err
	}
	currentHead, err := m.engine.CurrentHead(ctx)
	if err != nil {
		return nil, model.Wrap("rebase", "", err)
	}
	if _, err := m.st.Commits().Get(ctx, onto); err != nil {
		return nil, model.Wrap("rebase", onto, err)
	}

	toReplay := rangeCommits
	if len(toReplay) == 0 {
		lca, err := lowestCommonAncestor(ctx, m.st, currentHead, onto)
		if err != nil {
			return nil, model.Wrap("rebase", "", err)
		}
		chain, err := conflictRange(ctx, m, currentHead, lca)
		if err != nil {
			return nil, model.Wrap("rebase", "", err)
		}
		for _, c := range chain {
			toReplay = append(toReplay, c.CommitHash)
		}
	}
	if err := validateRange(ctx, m, toReplay); err != nil {
		return nil, model.Wrap("rebase", "", err)
	}

	newParent := onto
	result := &RebaseResult{}
	for _, oldHash := range toReplay {
		oldCommit, err := m.st.Commits().Get(ctx, oldHash)
		if err != nil {
			return nil, model.Wrap("rebase", oldHash, err)
		}
		payload, err := m.decodeCommitPayload(ctx, oldCommit)
		if err != nil {
			return nil, model.Wrap("rebase", oldHash, err)
		}

		newCommit, err := m.engine.ReplayCommit(ctx, newParent, replayInputFromOld(payload, oldCommit))
		if err != nil {
			return nil, model.Wrap("rebase", oldHash, err)
		}
		newParent = newCommit.CommitHash
		result.ReplayedOld = append(result.ReplayedOld, oldHash)
		result.ReplayedNew = append(result.ReplayedNew, newCommit.CommitHash)
	}

	if err := m.engine.ResetRef(ctx, newParent); err != nil {
		return nil, model.Wrap("rebase", "", err)
	}
	m.compiler.Cache().Invalidate()
	result.NewHead = newParent
	return result, nil
}

// replayInputFromOld rebuilds a CreateInput from a commit being replayed
// elsewhere in the chain, preserving its message, attribution, and
// generation config verbatim rather than re-synthesizing them.
func replayInputFromOld(payload model.Payload, old *model.Commit) engine.CreateInput {
	message := old.Message
	return engine.CreateInput{
		Payload:          payload,
		Operation:        old.Operation,
		Message:          &message,
		ReplyTo:          old.ReplyTo,
		EditTarget:       old.EditTarget,
		Metadata:         old.Metadata,
		GenerationConfig: old.GenerationConfig.Clone(),
	}
}

func validateRange(ctx context.Context, m *Manager, hashes []string) error {
	if len(hashes) == 0 {
		return fmt.Errorf("%w: empty range", model.ErrInvalidRange)
	}
	for _, h := range hashes {
		if _, err := m.st.Commits().Get(ctx, h); err != nil {
			return fmt.Errorf("%w: %s not found", model.ErrInvalidRange, h)
		}
	}
	return nil
}

func (m *Manager) decodeCommitPayload(ctx context.Context, c *model.Commit) (model.Payload, error) {
	data, err := m.st.Blobs().Get(ctx, c.ContentHash)
	if err != nil {
		return nil, err
	}
	return compile.DecodePayload(c.ContentType, data, m.engine.Registry())
}

package branch

import (
	"context"
	"fmt"

	"github.com/tractvcs/tract/internal/engine"
	"github.com/tractvcs/tract/internal/llmclient"
	"github.com/tractvcs/tract/internal/model"
)

// engineCreateInput builds a single-append CreateInput for merge-produced
// commits (ours/three_way/llm_semantic synthetic merge messages).
func engineCreateInput(payload model.Payload, op model.Operation, message string) engine.CreateInput {
	return engine.CreateInput{Payload: payload, Operation: op, Message: &message}
}

// Strategy selects how Merge reconciles source_branch into the current
// branch (spec §4.G).
type Strategy string

const (
	StrategyFastForward Strategy = "fast_forward"
	StrategyOurs        Strategy = "ours"
	StrategyTheirs      Strategy = "theirs"
	StrategyThreeWay    Strategy = "three_way"
	StrategyLLMSemantic Strategy = "llm_semantic"
)

// MergeResult is the product of a successful merge.
type MergeResult struct {
	MergeCommit string
	LCA         string
	Strategy    Strategy
}

// Merge implements spec §4.G merge(source_branch, strategy, *, llm_client?).
func (m *Manager) Merge(ctx context.Context, sourceBranch string, strategy Strategy, llm llmclient.Client) (*MergeResult, error) {
	if err := m.requireBranch("merge"); err != nil {
		return nil, err
	}
	currentHead, err := m.engine.CurrentHead(ctx)
	if err != nil {
		return nil, model.Wrap("merge", "", err)
	}
	sourceHead, err := m.st.Refs().Get(ctx, "HEAD/"+sourceBranch)
	if err != nil {
		return nil, model.Wrap("merge", sourceBranch, err)
	}

	lca, err := lowestCommonAncestor(ctx, m.st, currentHead, sourceHead)
	if err != nil {
		return nil, model.Wrap("merge", "", err)
	}

	switch strategy {
	case StrategyFastForward:
		return m.fastForward(ctx, currentHead, sourceHead, lca)
	case StrategyOurs:
		return m.recordMergeRef(ctx, currentHead, sourceHead, lca, strategy)
	case StrategyTheirs:
		if err := m.st.Refs().Set(ctx, m.headRef(), m.tractID, sourceHead); err != nil {
			return nil, model.Wrap("merge", sourceBranch, err)
		}
		m.compiler.Cache().Invalidate()
		return &MergeResult{MergeCommit: sourceHead, LCA: lca, Strategy: strategy}, nil
	case StrategyThreeWay:
		return m.threeWay(ctx, currentHead, sourceHead, lca)
	case StrategyLLMSemantic:
		return m.llmSemantic(ctx, currentHead, sourceHead, lca, llm)
	default:
		return nil, model.Wrap("merge", string(strategy), fmt.Errorf("%w: unknown strategy", model.ErrValidation))
	}
}

func (m *Manager) headRef() string { return "HEAD/" + m.engine.Branch() }

func (m *Manager) requireBranch(op string) error {
	if m.engine.Detached() {
		return model.Wrap(op, "", model.ErrDetachedHead)
	}
	return nil
}

// fastForward only applies when the current branch tip is an ancestor of
// the source tip: it simply advances the ref (spec §4.G).
func (m *Manager) fastForward(ctx context.Context, currentHead, sourceHead, lca string) (*MergeResult, error) {
	if lca != currentHead {
		return nil, model.Wrap("merge", "", fmt.Errorf("%w: current branch is not an ancestor of source; fast_forward not possible", model.ErrValidation))
	}
	if err := m.st.Refs().Set(ctx, m.headRef(), m.tractID, sourceHead); err != nil {
		return nil, model.Wrap("merge", "", err)
	}
	m.compiler.Cache().Invalidate()
	return &MergeResult{MergeCommit: sourceHead, LCA: lca, Strategy: StrategyFastForward}, nil
}

// recordMergeRef handles the "ours" strategy: the merge result is the
// current tip unchanged, but a merge commit with two parents still records
// that the merge happened (so the source branch's history remains linked).
func (m *Manager) recordMergeRef(ctx context.Context, currentHead, sourceHead, lca string, strategy Strategy) (*MergeResult, error) {
	mergeCommit, err := m.createMergeCommit(ctx, currentHead, currentHead, sourceHead, "ours merge")
	if err != nil {
		return nil, err
	}
	return &MergeResult{MergeCommit: mergeCommit, LCA: lca, Strategy: strategy}, nil
}

// conflictRange walks a to-exclusive-lca chain, returning the commits
// added on that side since lca (spec §4.G "classify each commit added on
// each side since the LCA").
func conflictRange(ctx context.Context, m *Manager, tip, lca string) ([]*model.Commit, error) {
	var out []*model.Commit
	cursor := tip
	for cursor != "" && cursor != lca {
		c, err := m.st.Commits().Get(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		cursor = c.ParentHash
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// classifyConflicts detects three-way conflicts (spec §4.G) of two kinds:
// the same edit_target edited on both sides, and the same reply_to answered
// on both sides. PINNED annotations are not compared, so overlapping pinned
// ranges never produce a conflict item.
func classifyConflicts(ctx context.Context, m *Manager, ours, theirs []*model.Commit) ([]model.MergeConflictItem, error) {
	ourEdits := make(map[string]*model.Commit)
	ourReplies := make(map[string]*model.Commit)
	for _, c := range ours {
		if c.Operation == model.OpEdit {
			ourEdits[c.EditTarget] = c
		}
		if c.ReplyTo != "" {
			ourReplies[c.ReplyTo] = c
		}
	}

	var conflicts []model.MergeConflictItem
	for _, c := range theirs {
		if c.Operation == model.OpEdit {
			if left, ok := ourEdits[c.EditTarget]; ok {
				conflicts = append(conflicts, model.MergeConflictItem{
					Kind:        "edit_target",
					LeftHash:    left.CommitHash,
					RightHash:   c.CommitHash,
					Description: fmt.Sprintf("both branches edit %s", c.EditTarget),
				})
			}
		}
		if c.ReplyTo != "" {
			if left, ok := ourReplies[c.ReplyTo]; ok {
				conflicts = append(conflicts, model.MergeConflictItem{
					Kind:        "reply_to",
					LeftHash:    left.CommitHash,
					RightHash:   c.CommitHash,
					Description: fmt.Sprintf("both branches reply to %s", c.ReplyTo),
				})
			}
		}
	}
	return conflicts, nil
}

// threeWay implements spec §4.G's three_way strategy: classify conflicts;
// if any are unresolved, return a MergeConflictError, otherwise produce a
// merge commit with two parents.
func (m *Manager) threeWay(ctx context.Context, currentHead, sourceHead, lca string) (*MergeResult, error) {
	ours, err := conflictRange(ctx, m, currentHead, lca)
	if err != nil {
		return nil, model.Wrap("merge", "", err)
	}
	theirs, err := conflictRange(ctx, m, sourceHead, lca)
	if err != nil {
		return nil, model.Wrap("merge", "", err)
	}
	conflicts, err := classifyConflicts(ctx, m, ours, theirs)
	if err != nil {
		return nil, model.Wrap("merge", "", err)
	}
	if len(conflicts) > 0 {
		return nil, &model.MergeConflictError{Items: conflicts}
	}

	mergeCommit, err := m.createMergeCommit(ctx, currentHead, currentHead, sourceHead, "three-way merge of "+sourceHead)
	if err != nil {
		return nil, err
	}
	return &MergeResult{MergeCommit: mergeCommit, LCA: lca, Strategy: StrategyThreeWay}, nil
}

// llmSemantic implements spec §4.G's llm_semantic strategy: reconciling
// conflicting ranges is delegated to the LLM client, and the result
// attributes the resolver as the merge commit's source.
func (m *Manager) llmSemantic(ctx context.Context, currentHead, sourceHead, lca string, llm llmclient.Client) (*MergeResult, error) {
	if llm == nil {
		return nil, model.Wrap("merge", "", model.ErrLLMConfig)
	}
	ours, err := conflictRange(ctx, m, currentHead, lca)
	if err != nil {
		return nil, model.Wrap("merge", "", err)
	}
	theirs, err := conflictRange(ctx, m, sourceHead, lca)
	if err != nil {
		return nil, model.Wrap("merge", "", err)
	}

	prompt := buildSemanticMergePrompt(ours, theirs)
	resp, err := llm.Complete(ctx, "claude-sonnet-4-5", prompt, 1024)
	if err != nil {
		return nil, model.Wrap("merge", "", fmt.Errorf("llm_semantic: %w", err))
	}

	payload := model.Output{Text: resp.Text}
	commit, err := m.engine.CreateCommit(ctx, engineCreateInput(payload, model.OpAppend, "llm_semantic merge of "+sourceHead))
	if err != nil {
		return nil, model.Wrap("merge", "", err)
	}
	if err := m.st.AddCommitParent(ctx, commit.CommitHash, sourceHead); err != nil {
		return nil, model.Wrap("merge", "", err)
	}
	m.compiler.Cache().Invalidate()
	return &MergeResult{MergeCommit: commit.CommitHash, LCA: lca, Strategy: StrategyLLMSemantic}, nil
}

func buildSemanticMergePrompt(ours, theirs []*model.Commit) string {
	return fmt.Sprintf(
		"Reconcile two diverging branches of a conversation context.\nOur branch added %d commit(s); their branch added %d commit(s).\nProduce a single coherent message that reconciles any conflicting content.",
		len(ours), len(theirs),
	)
}

// createMergeCommit wraps engine.CreateCommit to add the merge's second
// parent, since the engine's normal commit path only threads the
// first-parent chain.
func (m *Manager) createMergeCommit(ctx context.Context, firstParent, ours, theirs string, message string) (string, error) {
	payload := model.Output{Text: message}
	commit, err := m.engine.CreateCommit(ctx, engineCreateInput(payload, model.OpAppend, message))
	if err != nil {
		return "", model.Wrap("merge", "", err)
	}
	if err := m.st.AddCommitParent(ctx, commit.CommitHash, theirs); err != nil {
		return "", model.Wrap("merge", "", err)
	}
	m.compiler.Cache().Invalidate()
	return commit.CommitHash, nil
}

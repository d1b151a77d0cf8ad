package compress_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tractvcs/tract/internal/compile"
	"github.com/tractvcs/tract/internal/compress"
	"github.com/tractvcs/tract/internal/engine"
	"github.com/tractvcs/tract/internal/llmclient"
	"github.com/tractvcs/tract/internal/model"
	"github.com/tractvcs/tract/internal/store/sqlite"
)

type wordCounter struct{}

func (wordCounter) CountText(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return len(strings.Fields(text)), nil
}
func (wordCounter) EncodingName() string { return "word" }

type fakeLLM struct {
	response string
}

func (f *fakeLLM) Complete(ctx context.Context, model string, prompt string, maxTokens int) (*llmclient.ChatResponse, error) {
	return &llmclient.ChatResponse{Text: f.response}, nil
}

func newFixture(t *testing.T) (*sqlite.Store, *engine.Engine, *compress.Manager) {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	registry := model.NewRegistry()
	compiler := compile.New(st, wordCounter{}, registry)
	eng := engine.New(st, compiler, registry, "tract-1", nil, nil)
	mgr := compress.New(st, compiler, eng)
	return st, eng, mgr
}

func TestCompressDefaultRangeIsTokenBudgetBoundedPrefixNotWholeHistory(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)

	var commits []*model.Commit
	for i := 0; i < 4; i++ {
		c, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "word word", Role: model.RoleUser}, Operation: model.OpAppend})
		require.NoError(t, err)
		commits = append(commits, c)
	}

	// Each commit is 2 words/tokens. A budget of 5 fits HEAD plus exactly
	// one older commit (4 tokens), not the whole 4-commit, 8-token history.
	plan, err := mgr.Plan(ctx, compress.Options{TargetTokens: 5})
	require.NoError(t, err)
	require.Len(t, plan.Range, 2, "default range must stop once the token budget is spent, not walk to the root")
	require.Equal(t, commits[2].CommitHash, plan.Range[0].CommitHash)
	require.Equal(t, commits[3].CommitHash, plan.Range[1].CommitHash)
}

func TestCompressDefaultRangeWithNoBudgetIsWholeHistory(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "word word", Role: model.RoleUser}, Operation: model.OpAppend})
		require.NoError(t, err)
	}

	plan, err := mgr.Plan(ctx, compress.Options{})
	require.NoError(t, err)
	require.Len(t, plan.Range, 3, "no TargetTokens means no policy bound, so the default falls back to the whole history")
}

func TestCompressPreservesPinnedCommitVerbatim(t *testing.T) {
	ctx := context.Background()
	st, eng, mgr := newFixture(t)

	_, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "system prompt"}, Operation: model.OpAppend})
	require.NoError(t, err)
	pinned, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "critical decision", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, eng.Annotate(ctx, pinned.CommitHash, model.PriorityPinned, "must survive compaction"))
	_, err = eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "filler chat", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)

	result, err := mgr.Compress(ctx, compress.Options{Autonomy: compress.AutonomyManual, Content: "summary of non-pinned chatter"})
	require.NoError(t, err)
	require.Len(t, result.ResultHashes, 3, "summary of the instruction + pinned + replayed filler")

	var replayedPinned *model.Commit
	for _, h := range result.ResultHashes {
		c, gerr := st.Commits().Get(ctx, h)
		require.NoError(t, gerr)
		if c.ContentHash == pinned.ContentHash {
			replayedPinned = c
		}
	}
	require.NotNil(t, replayedPinned, "the pinned commit's content must survive, replayed under a fresh hash")
	require.NotEqual(t, pinned.CommitHash, replayedPinned.CommitHash, "a replayed commit gets a new hash since its parent changed")
}

func TestCompressAutonomousRequiresLLM(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)

	_, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "chatter", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)

	_, err = mgr.Compress(ctx, compress.Options{Autonomy: compress.AutonomyAutonomous})
	require.ErrorIs(t, err, model.ErrLLMConfig)
}

func TestCompressAutonomousSummarizesWithLLM(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)

	_, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "chatter one", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)
	_, err = eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "chatter two", Role: model.RoleAssistant}, Operation: model.OpAppend})
	require.NoError(t, err)

	result, err := mgr.Compress(ctx, compress.Options{Autonomy: compress.AutonomyAutonomous, LLM: &fakeLLM{response: "condensed summary"}})
	require.NoError(t, err)
	require.Len(t, result.ResultHashes, 1, "an unpinned run summarizes down to a single commit")

	head, err := eng.CurrentHead(ctx)
	require.NoError(t, err)
	require.Equal(t, result.NewHead, head)
}

func TestCompressCollaborativeRequiresPlanApprove(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)
	_, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "chatter", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)

	_, err = mgr.Compress(ctx, compress.Options{Autonomy: compress.AutonomyCollaborative})
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestCompressCollaborativePlanAndApprove(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)
	_, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "chatter one", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)
	_, err = eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "chatter two", Role: model.RoleAssistant}, Operation: model.OpAppend})
	require.NoError(t, err)

	pending, err := mgr.PlanCollaborative(ctx, compress.Options{Autonomy: compress.AutonomyCollaborative})
	require.NoError(t, err)
	require.Equal(t, 1, pending.GroupCount())

	require.NoError(t, pending.SetDraft(0, "human-reviewed summary"))
	result, err := mgr.Approve(ctx, pending)
	require.NoError(t, err)
	require.Len(t, result.ResultHashes, 1)
}

func TestCompressEmptyRangeFails(t *testing.T) {
	ctx := context.Background()
	_, _, mgr := newFixture(t)
	_, err := mgr.Compress(ctx, compress.Options{Autonomy: compress.AutonomyManual, Content: "x"})
	require.Error(t, err)
}

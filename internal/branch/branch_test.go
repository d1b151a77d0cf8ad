package branch_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tractvcs/tract/internal/branch"
	"github.com/tractvcs/tract/internal/compile"
	"github.com/tractvcs/tract/internal/engine"
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

func newFixture(t *testing.T) (*sqlite.Store, *engine.Engine, *branch.Manager) {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	registry := model.NewRegistry()
	compiler := compile.New(st, wordCounter{}, registry)
	eng := engine.New(st, compiler, registry, "tract-1", nil, nil)
	mgr := branch.New(st, compiler, eng)
	return st, eng, mgr
}

func TestBranchCreateAndCheckout(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)

	c1, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "root"}, Operation: model.OpAppend})
	require.NoError(t, err)

	require.NoError(t, mgr.CreateBranch(ctx, "feature", ""))
	names, err := mgr.ListBranches(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"main", "feature"}, names)

	require.NoError(t, mgr.Checkout(ctx, "feature"))
	require.False(t, eng.Detached())
	require.Equal(t, "feature", eng.Branch())

	require.NoError(t, mgr.Checkout(ctx, c1.CommitHash))
	require.True(t, eng.Detached())
}

func TestCheckoutUnknownNameFails(t *testing.T) {
	_, _, mgr := newFixture(t)
	err := mgr.Checkout(context.Background(), "nowhere")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestMergeFastForward(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)

	_, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "root"}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, mgr.CreateBranch(ctx, "feature", ""))
	require.NoError(t, mgr.Checkout(ctx, "feature"))
	tip, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "feature work", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)

	require.NoError(t, mgr.Checkout(ctx, "main"))
	result, err := mgr.Merge(ctx, "feature", branch.StrategyFastForward, nil)
	require.NoError(t, err)
	require.Equal(t, tip.CommitHash, result.MergeCommit)

	head, err := eng.CurrentHead(ctx)
	require.NoError(t, err)
	require.Equal(t, tip.CommitHash, head)
}

func TestMergeFastForwardFailsWhenNotAncestor(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)

	_, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "root"}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, mgr.CreateBranch(ctx, "feature", ""))

	// Diverge both branches.
	_, err = eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "main work", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, mgr.Checkout(ctx, "feature"))
	_, err = eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "feature work", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, mgr.Checkout(ctx, "main"))

	_, err = mgr.Merge(ctx, "feature", branch.StrategyFastForward, nil)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestMergeThreeWayDetectsEditTargetConflict(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)

	root, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "root"}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, mgr.CreateBranch(ctx, "feature", ""))

	_, err = eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "main edit"}, Operation: model.OpEdit, EditTarget: root.CommitHash})
	require.NoError(t, err)

	require.NoError(t, mgr.Checkout(ctx, "feature"))
	_, err = eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "feature edit"}, Operation: model.OpEdit, EditTarget: root.CommitHash})
	require.NoError(t, err)

	require.NoError(t, mgr.Checkout(ctx, "main"))
	_, err = mgr.Merge(ctx, "feature", branch.StrategyThreeWay, nil)
	var conflictErr *model.MergeConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Len(t, conflictErr.Items, 1)
	require.Equal(t, "edit_target", conflictErr.Items[0].Kind)
}

func TestMergeThreeWaySucceedsWithoutConflict(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)

	_, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "root"}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, mgr.CreateBranch(ctx, "feature", ""))

	_, err = eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "main work", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, mgr.Checkout(ctx, "feature"))
	_, err = eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "feature work", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, mgr.Checkout(ctx, "main"))

	result, err := mgr.Merge(ctx, "feature", branch.StrategyThreeWay, nil)
	require.NoError(t, err)
	require.Equal(t, branch.StrategyThreeWay, result.Strategy)
}

func TestMergeTheirsAdoptsSourceTip(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)

	_, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "root"}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, mgr.CreateBranch(ctx, "feature", ""))
	require.NoError(t, mgr.Checkout(ctx, "feature"))
	tip, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "feature work", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, mgr.Checkout(ctx, "main"))

	result, err := mgr.Merge(ctx, "feature", branch.StrategyTheirs, nil)
	require.NoError(t, err)
	require.Equal(t, tip.CommitHash, result.MergeCommit)
}

func TestRebaseReplaysChainOntoNewBase(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)

	_, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "root"}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, mgr.CreateBranch(ctx, "feature", ""))

	mainTip, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "main work", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)

	require.NoError(t, mgr.Checkout(ctx, "feature"))
	f1, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "feature one", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)
	f2, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "feature two", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)

	result, err := mgr.Rebase(ctx, mainTip.CommitHash, nil)
	require.NoError(t, err)
	require.Equal(t, []string{f1.CommitHash, f2.CommitHash}, result.ReplayedOld)
	require.Len(t, result.ReplayedNew, 2)
	require.NotEqual(t, f1.CommitHash, result.ReplayedNew[0], "a replayed commit under a new parent must get a fresh hash")

	head, err := eng.CurrentHead(ctx)
	require.NoError(t, err)
	require.Equal(t, result.NewHead, head)
}

func TestImportCommitBringsInASingleCommit(t *testing.T) {
	ctx := context.Background()
	_, eng, mgr := newFixture(t)

	_, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "root"}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, mgr.CreateBranch(ctx, "feature", ""))
	require.NoError(t, mgr.Checkout(ctx, "feature"))
	tip, err := eng.CreateCommit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "feature work", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)
	require.NoError(t, mgr.Checkout(ctx, "main"))

	imported, err := mgr.ImportCommit(ctx, tip.CommitHash, "main")
	require.NoError(t, err)
	require.NotEqual(t, tip.CommitHash, imported.CommitHash)
	require.Equal(t, tip.ContentHash, imported.ContentHash, "imported content must match the source commit's payload")
}

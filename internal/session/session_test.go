package session_test

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
	"github.com/tractvcs/tract/internal/session"
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

type fakeLLM struct{ response string }

func (f *fakeLLM) Complete(ctx context.Context, model string, prompt string, maxTokens int) (*llmclient.ChatResponse, error) {
	return &llmclient.ChatResponse{Text: f.response}, nil
}

func newFixture(t *testing.T) (*sqlite.Store, *session.Session) {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	sess, err := session.New(ctx, session.Config{Store: st, Counter: wordCounter{}})
	require.NoError(t, err)
	return st, sess
}

func TestCreateTractOpensAnIndependentHandle(t *testing.T) {
	ctx := context.Background()
	_, sess := newFixture(t)

	tr, err := sess.CreateTract(ctx, "main chat")
	require.NoError(t, err)
	require.NotEmpty(t, tr.ID())

	_, err = tr.Commit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "system prompt"}, Operation: model.OpAppend})
	require.NoError(t, err)

	tracts, err := sess.ListTracts(ctx)
	require.NoError(t, err)
	require.Len(t, tracts, 1)
	require.Equal(t, "main chat", tracts[0].DisplayName)
}

func TestSpawnRecordsParentEdgeAtCurrentHead(t *testing.T) {
	ctx := context.Background()
	st, sess := newFixture(t)

	parent, err := sess.CreateTract(ctx, "parent")
	require.NoError(t, err)
	head, err := parent.Commit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "root"}, Operation: model.OpAppend})
	require.NoError(t, err)

	child, err := sess.Spawn(ctx, parent, "sub-task investigation")
	require.NoError(t, err)
	require.NotEqual(t, parent.ID(), child.ID())

	edge, err := st.Sessions().GetSpawnEdge(ctx, child.ID())
	require.NoError(t, err)
	require.Equal(t, parent.ID(), edge.ParentTractID)
	require.Equal(t, head.CommitHash, edge.SpawnPoint)
	require.Equal(t, "sub-task investigation", edge.Purpose)
}

func TestCollapseAppendsSessionSummaryCommitToParent(t *testing.T) {
	ctx := context.Background()
	_, sess := newFixture(t)

	parent, err := sess.CreateTract(ctx, "parent")
	require.NoError(t, err)
	_, err = parent.Commit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "root"}, Operation: model.OpAppend})
	require.NoError(t, err)

	child, err := sess.Spawn(ctx, parent, "explore an alternative")
	require.NoError(t, err)
	_, err = child.Commit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "child chatter", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)

	commit, err := sess.Collapse(ctx, child, parent, session.CollapseOptions{
		Autonomy: compress.AutonomyManual,
		Content:  "child tract concluded the alternative didn't pan out",
	})
	require.NoError(t, err)
	require.Equal(t, model.TypeSession, commit.ContentType)
	require.Equal(t, child.ID(), commit.Metadata["collapsed_from_tract"])

	log, err := parent.Log(ctx, 0)
	require.NoError(t, err)
	require.Len(t, log, 2, "root commit plus the collapse summary")
}

func TestCollapseSummarizesViaLLMWhenAutonomyIsNotManual(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	sess, err := session.New(ctx, session.Config{Store: st, Counter: wordCounter{}, LLM: &fakeLLM{response: "condensed child summary"}})
	require.NoError(t, err)

	parent, err := sess.CreateTract(ctx, "parent")
	require.NoError(t, err)
	child, err := sess.Spawn(ctx, parent, "purpose")
	require.NoError(t, err)
	_, err = child.Commit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "child chatter", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)

	commit, err := sess.Collapse(ctx, child, parent, session.CollapseOptions{Autonomy: compress.AutonomyAutonomous})
	require.NoError(t, err)

	raw, err := st.Blobs().Get(ctx, commit.ContentHash)
	require.NoError(t, err)
	payload, err := compile.DecodePayload(commit.ContentType, raw, model.NewRegistry())
	require.NoError(t, err)
	summary, ok := payload.(model.Session)
	require.True(t, ok)
	require.Equal(t, "condensed child summary", summary.Summary)
}

func TestCollapseRejectsEmptyManualContent(t *testing.T) {
	ctx := context.Background()
	_, sess := newFixture(t)

	parent, err := sess.CreateTract(ctx, "parent")
	require.NoError(t, err)
	child, err := sess.Spawn(ctx, parent, "purpose")
	require.NoError(t, err)

	_, err = sess.Collapse(ctx, child, parent, session.CollapseOptions{Autonomy: compress.AutonomyManual, Content: ""})
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestTimelineMergesAcrossTractsByCreationOrder(t *testing.T) {
	ctx := context.Background()
	_, sess := newFixture(t)

	a, err := sess.CreateTract(ctx, "a")
	require.NoError(t, err)
	b, err := sess.CreateTract(ctx, "b")
	require.NoError(t, err)

	_, err = a.Commit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "a1"}, Operation: model.OpAppend})
	require.NoError(t, err)
	_, err = b.Commit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "b1"}, Operation: model.OpAppend})
	require.NoError(t, err)
	_, err = a.Commit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "a2", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)

	entries, err := sess.Timeline(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		require.False(t, entries[i].Commit.CreatedAt.Before(entries[i-1].Commit.CreatedAt))
	}
}

func TestSearchMatchesAcrossTracts(t *testing.T) {
	ctx := context.Background()
	_, sess := newFixture(t)

	a, err := sess.CreateTract(ctx, "a")
	require.NoError(t, err)
	_, err = a.Commit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "find the needle here", Role: model.RoleUser}, Operation: model.OpAppend})
	require.NoError(t, err)
	_, err = a.Commit(ctx, engine.CreateInput{Payload: model.Dialogue{Text: "unrelated chatter", Role: model.RoleAssistant}, Operation: model.OpAppend})
	require.NoError(t, err)

	matched, err := sess.Search(ctx, "needle")
	require.NoError(t, err)
	require.Len(t, matched, 1)
}

func TestResumeReturnsMostRecentlyActiveTract(t *testing.T) {
	ctx := context.Background()
	_, sess := newFixture(t)

	a, err := sess.CreateTract(ctx, "a")
	require.NoError(t, err)
	_, err = sess.CreateTract(ctx, "b")
	require.NoError(t, err)

	_, err = a.Commit(ctx, engine.CreateInput{Payload: model.Instruction{Text: "latest activity"}, Operation: model.OpAppend})
	require.NoError(t, err)

	resumed, err := sess.Resume(ctx)
	require.NoError(t, err)
	require.Equal(t, a.ID(), resumed.ID())
}

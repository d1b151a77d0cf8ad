package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tractvcs/tract/internal/model"
	"github.com/tractvcs/tract/internal/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, st.Close())
	})
	return st
}

// seedCommits stores a root commit for each hash, so refs and annotations
// pointing at them satisfy the schema's foreign keys.
func seedCommits(t *testing.T, st *sqlite.Store, hashes ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := st.Blobs().SaveIfAbsent(ctx, "seed-blob", []byte("seed"))
	require.NoError(t, err)
	for _, h := range hashes {
		require.NoError(t, st.Commits().Create(ctx, &model.Commit{
			CommitHash: h, TractID: "t1", ContentHash: "seed-blob",
			ContentType: model.TypeInstruction, Operation: model.OpAppend,
			CreatedAt: time.Now().UTC(),
		}))
	}
}

func TestSchemaVersionAfterOpen(t *testing.T) {
	st := newTestStore(t)
	v, err := st.SchemaVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, sqlite.CurrentSchemaVersion, v)
}

func TestBlobSaveIfAbsentDedups(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	inserted, err := st.Blobs().SaveIfAbsent(ctx, "hash1", []byte("hello"))
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = st.Blobs().SaveIfAbsent(ctx, "hash1", []byte("hello"))
	require.NoError(t, err)
	require.False(t, inserted, "second insert of the same content hash must be a no-op")

	data, err := st.Blobs().Get(ctx, "hash1")
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestBlobGetMissingReturnsNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Blobs().Get(context.Background(), "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestBlobDeleteIfOrphaned(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Blobs().SaveIfAbsent(ctx, "orphan", []byte("x"))
	require.NoError(t, err)

	removed, err := st.Blobs().DeleteIfOrphaned(ctx, "orphan")
	require.NoError(t, err)
	require.True(t, removed)

	_, err = st.Blobs().Get(ctx, "orphan")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestBlobDeleteIfOrphanedKeepsReferencedBlob(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Blobs().SaveIfAbsent(ctx, "referenced", []byte("x"))
	require.NoError(t, err)
	commit := &model.Commit{
		CommitHash: "c1", TractID: "t1", ContentHash: "referenced",
		ContentType: model.TypeInstruction, Operation: model.OpAppend,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Commits().Create(ctx, commit))

	removed, err := st.Blobs().DeleteIfOrphaned(ctx, "referenced")
	require.NoError(t, err)
	require.False(t, removed, "a blob referenced by a commit must not be deleted")
}

func TestRefSetGetListDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCommits(t, st, "c1", "c2", "c3")

	require.NoError(t, st.Refs().Set(ctx, "HEAD/main", "t1", "c1"))
	got, err := st.Refs().Get(ctx, "HEAD/main")
	require.NoError(t, err)
	require.Equal(t, "c1", got)

	require.NoError(t, st.Refs().Set(ctx, "HEAD/main", "t1", "c2"))
	got, err = st.Refs().Get(ctx, "HEAD/main")
	require.NoError(t, err)
	require.Equal(t, "c2", got, "re-pointing an existing ref must overwrite")

	require.NoError(t, st.Refs().Set(ctx, "HEAD/feature", "t1", "c3"))
	refs, err := st.Refs().List(ctx, "HEAD/")
	require.NoError(t, err)
	require.Len(t, refs, 2)

	require.NoError(t, st.Refs().Delete(ctx, "HEAD/feature"))
	refs, err = st.Refs().List(ctx, "HEAD/")
	require.NoError(t, err)
	require.Len(t, refs, 1)
}

func TestRefGetMissingReturnsNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Refs().Get(context.Background(), "HEAD/missing")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestAnnotationBatchGetLatestPicksMostRecent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCommits(t, st, "c1")

	older := &model.Annotation{TargetHash: "c1", Priority: model.PriorityNormal, CreatedAt: time.Now().Add(-time.Hour).UTC()}
	newer := &model.Annotation{TargetHash: "c1", Priority: model.PriorityPinned, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.Annotations().Insert(ctx, older))
	require.NoError(t, st.Annotations().Insert(ctx, newer))

	latest, err := st.Annotations().GetLatest(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, model.PriorityPinned, latest.Priority)

	batch, err := st.Annotations().BatchGetLatest(ctx, []string{"c1", "missing"})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, model.PriorityPinned, batch["c1"].Priority)
}

func TestCommitCreateGetAndDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Blobs().SaveIfAbsent(ctx, "ch1", []byte("hello"))
	require.NoError(t, err)
	commit := &model.Commit{
		CommitHash: "commit1", TractID: "t1", ContentHash: "ch1",
		ContentType: model.TypeInstruction, Operation: model.OpAppend,
		Message: "hi", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Commits().Create(ctx, commit))

	got, err := st.Commits().Get(ctx, "commit1")
	require.NoError(t, err)
	require.Equal(t, "hi", got.Message)

	require.NoError(t, st.Commits().Delete(ctx, "commit1"))
	_, err = st.Commits().Get(ctx, "commit1")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestCommitUpdateUsage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.Blobs().SaveIfAbsent(ctx, "ch1", []byte("hello"))
	require.NoError(t, err)
	commit := &model.Commit{
		CommitHash: "commit1", TractID: "t1", ContentHash: "ch1",
		ContentType: model.TypeInstruction, Operation: model.OpAppend,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Commits().Create(ctx, commit))

	require.NoError(t, st.Commits().UpdateUsage(ctx, "commit1", 42, "api:10+32"))
	got, err := st.Commits().Get(ctx, "commit1")
	require.NoError(t, err)
	require.Equal(t, 42, got.TokenCount)
	require.Equal(t, "api:10+32", got.TokenSource)
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedCommits(t, st, "c1")

	err := st.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, st.Refs().Set(ctx, "HEAD/main", "t1", "c1"))
		return context.Canceled
	})
	require.Error(t, err)

	_, err = st.Refs().Get(ctx, "HEAD/main")
	require.ErrorIs(t, err, model.ErrNotFound, "a failed WithinTx must not persist any writes")
}

func TestSessionsAndTractsAndSpawnEdges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Sessions().CreateSession(ctx, "sess1", time.Now().UTC()))
	parent := model.TractMeta{TractID: "tract-parent", SessionID: "sess1", DisplayName: "parent", CreatedAt: time.Now().UTC()}
	child := model.TractMeta{TractID: "tract-child", SessionID: "sess1", DisplayName: "child", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.Sessions().CreateTract(ctx, parent))
	require.NoError(t, st.Sessions().CreateTract(ctx, child))

	tracts, err := st.Sessions().ListTracts(ctx, "sess1")
	require.NoError(t, err)
	require.Len(t, tracts, 2)

	edge := model.SpawnEdge{ChildTractID: "tract-child", ParentTractID: "tract-parent", SpawnPoint: "c1", Purpose: "sub-task", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.Sessions().RecordSpawn(ctx, edge))

	got, err := st.Sessions().GetSpawnEdge(ctx, "tract-child")
	require.NoError(t, err)
	require.Equal(t, "tract-parent", got.ParentTractID)
	require.Equal(t, "sub-task", got.Purpose)
}

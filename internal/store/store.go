// Package store defines the storage-repository contracts of spec §4.C:
// four required repositories (blobs, commits, refs, annotations) plus the
// operation-event and compile-record repositories of spec §4.K. A concrete
// implementation lives in internal/store/sqlite.
package store

import (
	"context"
	"time"

	"github.com/tractvcs/tract/internal/model"
)

// ConfigOp is a closed enum of the comparison operators get_by_config(_multi)
// supports (spec §4.C, §9 "string operator dispatch in queries").
type ConfigOp string

const (
	OpEq ConfigOp = "="
	OpNe ConfigOp = "!="
	OpGt ConfigOp = ">"
	OpGe ConfigOp = ">="
	OpLt ConfigOp = "<"
	OpLe ConfigOp = "<="
	OpIn ConfigOp = "in"
)

// ConfigPredicate is one AND-composed term of a get_by_config_multi query.
type ConfigPredicate struct {
	Field string
	Op    ConfigOp
	Value interface{}
}

// BlobRepository stores content-addressed, deduplicated bytes.
type BlobRepository interface {
	// SaveIfAbsent inserts bytes under contentHash iff no row exists yet.
	// Returns true iff it performed the insert.
	SaveIfAbsent(ctx context.Context, contentHash string, data []byte) (bool, error)
	Get(ctx context.Context, contentHash string) ([]byte, error) // model.ErrNotFound if absent
	// DeleteIfOrphaned removes the blob iff no commit references it.
	// Returns true iff it performed the delete.
	DeleteIfOrphaned(ctx context.Context, contentHash string) (bool, error)
}

// CommitRepository stores immutable commit rows and supports the
// JSON-field config queries engines use to locate commits by
// generation_config (spec §4.C).
type CommitRepository interface {
	Create(ctx context.Context, c *model.Commit) error
	Get(ctx context.Context, commitHash string) (*model.Commit, error)
	// UpdateUsage overwrites the one mutable pair on an otherwise immutable
	// commit row: token_count and token_source (spec §4.E record_usage).
	UpdateUsage(ctx context.Context, commitHash string, tokenCount int, tokenSource string) error
	// GetByTract returns commits ordered by created_at ascending, optionally
	// capped at limit (0 = unlimited).
	GetByTract(ctx context.Context, tractID string, limit int) ([]*model.Commit, error)
	GetByConfig(ctx context.Context, tractID, field string, op ConfigOp, value interface{}) ([]*model.Commit, error)
	GetByConfigMulti(ctx context.Context, tractID string, predicates []ConfigPredicate) ([]*model.Commit, error)
	// Delete cascades: dependent annotations, event-commit rows, and ref
	// rows are removed; children's parent_hash/edit_target are nulled
	// before the row disappears (spec §3-inv-5).
	Delete(ctx context.Context, commitHash string) error
}

// RefRepository stores named pointers to commits.
type RefRepository interface {
	Set(ctx context.Context, refName, tractID, commitHash string) error
	Get(ctx context.Context, refName string) (string, error) // model.ErrNotFound if absent
	List(ctx context.Context, prefix string) ([]model.Ref, error)
	Delete(ctx context.Context, refName string) error
}

// AnnotationRepository stores append-only priority annotations.
type AnnotationRepository interface {
	Insert(ctx context.Context, a *model.Annotation) error
	GetLatest(ctx context.Context, targetHash string) (*model.Annotation, error) // nil, nil if none
	// BatchGetLatest returns the latest annotation per target in one query
	// (a subquery on max(created_at)), avoiding N+1 (spec §4.C).
	BatchGetLatest(ctx context.Context, targetHashes []string) (map[string]*model.Annotation, error)
}

// OperationEventRepository stores the unified compress/reorganize/import
// provenance log (spec §3, §4.K).
type OperationEventRepository interface {
	SaveEvent(ctx context.Context, e *model.OperationEvent) error
	AddCommit(ctx context.Context, eventID string, role model.OperationEventCommitRole, commitHash string) error
	GetEvent(ctx context.Context, eventID string) (*model.OperationEvent, error)
	GetCommitsForEvent(ctx context.Context, eventID string) ([]model.OperationEventCommit, error)
	ListEvents(ctx context.Context, tractID string, kind model.EventKind) ([]*model.OperationEvent, error)
}

// CompileRecordRepository stores per-generate-call provenance (spec §3, §4.K).
type CompileRecordRepository interface {
	Save(ctx context.Context, r *model.CompileRecord) error
	List(ctx context.Context, tractID string, limit int) ([]*model.CompileRecord, error)
	GetEffectiveCommits(ctx context.Context, recordID string) ([]string, error)
}

// SessionRepository stores the multi-tract session registry (spec §4.J):
// sessions, the tracts within them, and spawn parent-child edges.
type SessionRepository interface {
	CreateSession(ctx context.Context, sessionID string, createdAt time.Time) error
	CreateTract(ctx context.Context, t model.TractMeta) error
	ListTracts(ctx context.Context, sessionID string) ([]model.TractMeta, error)
	RecordSpawn(ctx context.Context, e model.SpawnEdge) error
	GetSpawnEdge(ctx context.Context, childTractID string) (*model.SpawnEdge, error)
	// MostRecentTract returns the tract with the latest commit created_at
	// in sessionID, for Session.Resume (spec §4.J).
	MostRecentTract(ctx context.Context, sessionID string) (string, error)
}

// Store aggregates the repositories plus the transactional and schema-
// lifecycle operations a tract handle needs (spec §4.C, §5).
type Store interface {
	Blobs() BlobRepository
	Commits() CommitRepository
	Refs() RefRepository
	Annotations() AnnotationRepository
	Events() OperationEventRepository
	CompileRecords() CompileRecordRepository
	Sessions() SessionRepository

	// CommitParents records an additional (non-first) parent of a merge
	// commit, and ParentsOf returns every parent (first + additional).
	AddCommitParent(ctx context.Context, commitHash, parentHash string) error
	ParentsOf(ctx context.Context, commitHash string) ([]string, error)

	// WithinTx runs fn inside an atomic, all-or-nothing transaction (the
	// native savepoint/transaction primitive spec §9 prefers over
	// monkey-patched commit suppression). A nested batch scope (spec
	// §4.E, §5) is one WithinTx call.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	// SchemaVersion reports the linear schema version on disk (spec §4.C).
	SchemaVersion(ctx context.Context) (int, error)

	Close() error
}

// BusyRetry bounds how long WithinTx retries under a transient store-busy
// condition before surfacing the error (spec §5 "bounded backoff").
var BusyRetry = struct {
	MaxAttempts int
	BaseDelay   time.Duration
}{MaxAttempts: 5, BaseDelay: 20 * time.Millisecond}

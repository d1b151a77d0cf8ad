// Package session implements the multi-tract session layer (spec §4.J):
// one storage backend shared by many Tract handles, with spawn/collapse
// semantics and a cross-tract timeline/search.
package session

import (
	"context"

	"github.com/tractvcs/tract/internal/branch"
	"github.com/tractvcs/tract/internal/compile"
	"github.com/tractvcs/tract/internal/compress"
	"github.com/tractvcs/tract/internal/engine"
	"github.com/tractvcs/tract/internal/gc"
	"github.com/tractvcs/tract/internal/llmclient"
	"github.com/tractvcs/tract/internal/model"
	"github.com/tractvcs/tract/internal/store"
	"github.com/tractvcs/tract/internal/tokencount"
)

// Tract is one agent's version-controlled context: a commit engine, its
// compiler/cache, and the branch/compress/gc operations that mutate its
// chain, all bound to one tract_id sharing the session's store connection
// (spec §5 "one tract handle ... serializes operations on it").
type Tract struct {
	id       string
	st       store.Store
	registry *model.Registry
	compiler *compile.Compiler
	engine   *engine.Engine
	branch   *branch.Manager
	compress *compress.Manager
	gc       *gc.Manager
	llm      llmclient.Client
}

// Components bundles the dependency-injection inputs Tract.FromComponents
// needs (spec §6 "Tract.from_components(...) for dependency injection").
type Components struct {
	Store    store.Store
	TractID  string
	Registry *model.Registry
	Counter  tokencount.Counter
	Budget   *engine.TokenBudgetConfig
	LLM      llmclient.Client
}

// FromComponents wires a Tract handle from already-constructed parts,
// bypassing Session entirely -- used by tests and by callers that manage
// their own store lifecycle.
func FromComponents(c Components) *Tract {
	if c.Registry == nil {
		c.Registry = model.NewRegistry()
	}
	compiler := compile.New(c.Store, c.Counter, c.Registry)
	eng := engine.New(c.Store, compiler, c.Registry, c.TractID, c.Budget, nil)
	return &Tract{
		id:       c.TractID,
		st:       c.Store,
		registry: c.Registry,
		compiler: compiler,
		engine:   eng,
		branch:   branch.New(c.Store, compiler, eng),
		compress: compress.New(c.Store, compiler, eng),
		gc:       gc.New(c.Store, eng),
		llm:      c.LLM,
	}
}

// ID returns the tract's identifier.
func (t *Tract) ID() string { return t.id }

// Commit implements spec §4.E create_commit.
func (t *Tract) Commit(ctx context.Context, in engine.CreateInput) (*model.Commit, error) {
	return t.engine.CreateCommit(ctx, in)
}

// Compile implements spec §4.F compile(...).
func (t *Tract) Compile(ctx context.Context, opts compile.Options) (*compile.CompiledContext, error) {
	if t.engine.Detached() && opts.DetachedHead == "" {
		head, err := t.engine.CurrentHead(ctx)
		if err != nil {
			return nil, err
		}
		opts.DetachedHead = head
	}
	return t.compiler.Compile(ctx, t.id, t.engine.Branch(), opts)
}

// GetCommit fetches one commit by hash.
func (t *Tract) GetCommit(ctx context.Context, hash string) (*model.Commit, error) {
	return t.st.Commits().Get(ctx, hash)
}

// Annotate implements spec §4.E annotate(target, priority, reason?).
func (t *Tract) Annotate(ctx context.Context, targetHash string, priority model.Priority, reason string) error {
	return t.engine.Annotate(ctx, targetHash, priority, reason)
}

// GetAnnotations returns the latest annotation for each of hashes.
func (t *Tract) GetAnnotations(ctx context.Context, hashes []string) (map[string]*model.Annotation, error) {
	return t.st.Annotations().BatchGetLatest(ctx, hashes)
}

// Log returns this tract's commits in creation order, capped at limit (0 = unlimited).
func (t *Tract) Log(ctx context.Context, limit int) ([]*model.Commit, error) {
	return t.st.Commits().GetByTract(ctx, t.id, limit)
}

// Batch implements spec §4.E batch(): a scoped, atomic write boundary.
func (t *Tract) Batch(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.engine.Batch(ctx, fn)
}

// RecordUsage implements spec §4.E record_usage: overwrites a HEAD
// commit's token accounting with an API-reported usage figure.
func (t *Tract) RecordUsage(ctx context.Context, commitHash string, promptTokens, completionTokens int) error {
	return t.engine.RecordUsage(ctx, commitHash, promptTokens, completionTokens)
}

// Branch implements spec §4.G branch(name, from_hash?).
func (t *Tract) Branch(ctx context.Context, name, fromHash string) error {
	return t.branch.CreateBranch(ctx, name, fromHash)
}

// Checkout implements spec §4.G checkout(name_or_hash).
func (t *Tract) Checkout(ctx context.Context, nameOrHash string) error {
	return t.branch.Checkout(ctx, nameOrHash)
}

// ListBranches lists every named branch of this tract.
func (t *Tract) ListBranches(ctx context.Context) ([]string, error) {
	return t.branch.ListBranches(ctx)
}

// Merge implements spec §4.G merge(source_branch, strategy, *, llm_client?).
func (t *Tract) Merge(ctx context.Context, sourceBranch string, strategy branch.Strategy) (*branch.MergeResult, error) {
	return t.branch.Merge(ctx, sourceBranch, strategy, t.llm)
}

// Rebase implements spec §4.G rebase(onto, *, range?).
func (t *Tract) Rebase(ctx context.Context, onto string, rangeCommits []string) (*branch.RebaseResult, error) {
	return t.branch.Rebase(ctx, onto, rangeCommits)
}

// ImportCommit implements spec §4.G import_commit(source_hash, *, into_branch).
func (t *Tract) ImportCommit(ctx context.Context, sourceHash, intoBranch string) (*model.Commit, error) {
	return t.branch.ImportCommit(ctx, sourceHash, intoBranch)
}

// Compress implements spec §4.H compress(...) for autonomous/manual autonomy.
func (t *Tract) Compress(ctx context.Context, opts compress.Options) (*compress.Result, error) {
	if opts.LLM == nil {
		opts.LLM = t.llm
	}
	return t.compress.Compress(ctx, opts)
}

// PlanCompression starts a collaborative compression (spec §4.H step 4).
func (t *Tract) PlanCompression(ctx context.Context, opts compress.Options) (*compress.PendingCompression, error) {
	return t.compress.PlanCollaborative(ctx, opts)
}

// ApproveCompression commits a collaborative compression's reviewed drafts.
func (t *Tract) ApproveCompression(ctx context.Context, p *compress.PendingCompression) (*compress.Result, error) {
	return t.compress.Approve(ctx, p)
}

// GC implements spec §4.I gc(...).
func (t *Tract) GC(ctx context.Context, opts gc.Options) (*gc.Result, error) {
	return t.gc.Run(ctx, opts)
}

// QueryByConfig implements spec §4.C get_by_config.
func (t *Tract) QueryByConfig(ctx context.Context, field string, op store.ConfigOp, value interface{}) ([]*model.Commit, error) {
	return t.st.Commits().GetByConfig(ctx, t.id, field, op, value)
}

// QueryByConfigMulti implements spec §4.C get_by_config_multi.
func (t *Tract) QueryByConfigMulti(ctx context.Context, predicates []store.ConfigPredicate) ([]*model.Commit, error) {
	return t.st.Commits().GetByConfigMulti(ctx, t.id, predicates)
}

// CompileRecords lists this tract's generate()-call provenance records.
func (t *Tract) CompileRecords(ctx context.Context, limit int) ([]*model.CompileRecord, error) {
	return t.st.CompileRecords().List(ctx, t.id, limit)
}

// CompileRecordCommits returns one compile record's effective commit hashes.
func (t *Tract) CompileRecordCommits(ctx context.Context, recordID string) ([]string, error) {
	return t.st.CompileRecords().GetEffectiveCommits(ctx, recordID)
}

// RegisterContentType implements spec §6 register_content_type: extends
// this tract's in-memory custom-type registry; callers persisting it
// across process restarts should follow with config.SaveRegistry.
func (t *Tract) RegisterContentType(tag model.ContentType, entry model.RegistryEntry) {
	t.registry.Register(tag, entry)
}

// PauseAllPolicies implements spec §6 pause_all_policies.
func (t *Tract) PauseAllPolicies() { t.engine.PausePolicies() }

// ResumeAllPolicies implements spec §6 resume_all_policies.
func (t *Tract) ResumeAllPolicies() { t.engine.ResumePolicies() }

// Package engine implements the commit engine (spec §4.E): the single
// write path every mutation (append, edit, merge, rebase, import, compress)
// ultimately funnels through, so token-budget policy and cache invalidation
// are applied uniformly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tractvcs/tract/internal/compile"
	"github.com/tractvcs/tract/internal/hashing"
	"github.com/tractvcs/tract/internal/model"
	"github.com/tractvcs/tract/internal/store"
)

// CreateInput bundles create_commit's keyword arguments (spec §4.E).
type CreateInput struct {
	Payload          model.Payload
	Operation        model.Operation
	Message          *string // nil = synthesize; non-nil "" = store empty
	ReplyTo          string
	EditTarget       string
	Metadata         map[string]string
	GenerationConfig *model.GenerationConfig
}

// Engine is the commit engine for one tract, bound to its store, compiler,
// and registry. One Engine is owned exclusively by one tract handle (spec
// §5), matching the Compiler's single-owner cache.
type Engine struct {
	st           store.Store
	compiler     *compile.Compiler
	registry     *model.Registry
	tractID      string
	branch       string
	detached     bool
	detachedHash string
	budget       *TokenBudgetConfig
	policiesPaused bool
	now          func() time.Time
}

// PausePolicies suspends the token-budget check (spec §6
// pause_all_policies); commits succeed unconditionally until resumed.
func (e *Engine) PausePolicies() { e.policiesPaused = true }

// ResumePolicies re-enables the token-budget check (spec §6
// resume_all_policies).
func (e *Engine) ResumePolicies() { e.policiesPaused = false }

// New builds a commit engine. now defaults to time.Now if nil (tests can
// substitute a deterministic clock).
func New(st store.Store, compiler *compile.Compiler, registry *model.Registry, tractID string, budget *TokenBudgetConfig, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{st: st, compiler: compiler, registry: registry, tractID: tractID, branch: "main", budget: budget, now: now}
}

// Registry exposes the tract's content-type registry, so callers outside
// this package (branch rebase/import, compress) can decode a stored
// commit's payload back to its typed form when replaying it.
func (e *Engine) Registry() *model.Registry { return e.registry }

// CheckoutBranch makes name the active branch (spec §4.G checkout).
func (e *Engine) CheckoutBranch(name string) {
	e.branch = name
	e.detached = false
	e.detachedHash = ""
}

// CheckoutDetached puts the tract in detached-HEAD state at commitHash
// (spec §4.G checkout): write operations fail with DetachedHead until a
// branch is checked out again.
func (e *Engine) CheckoutDetached(commitHash string) {
	e.branch = ""
	e.detached = true
	e.detachedHash = commitHash
}

// Branch reports the active branch name, or "" if detached.
func (e *Engine) Branch() string { return e.branch }

// Detached reports whether HEAD is currently detached.
func (e *Engine) Detached() bool { return e.detached }

// TractID reports the tract this engine is bound to.
func (e *Engine) TractID() string { return e.tractID }

// ResetRef points the active branch's ref directly at newHead, or deletes
// the ref entirely if newHead is "" (spec §4.G rebase, §4.H compress chain
// rewriting -- both replace a whole chain and need to move HEAD without
// going through create_commit's own parent resolution).
func (e *Engine) ResetRef(ctx context.Context, newHead string) error {
	if err := e.requireBranch("reset_ref"); err != nil {
		return err
	}
	if newHead == "" {
		return e.st.Refs().Delete(ctx, e.refName())
	}
	return e.st.Refs().Set(ctx, e.refName(), e.tractID, newHead)
}

// CurrentHead resolves what HEAD currently points at: the detached commit
// hash, or the active branch's ref.
func (e *Engine) CurrentHead(ctx context.Context) (string, error) {
	if e.detached {
		return e.detachedHash, nil
	}
	head, err := e.st.Refs().Get(ctx, e.refName())
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", model.Wrap("current_head", e.refName(), err)
	}
	return head, nil
}

func (e *Engine) refName() string { return "HEAD/" + e.branch }

func (e *Engine) requireBranch(op string) error {
	if e.detached {
		return model.Wrap(op, "", model.ErrDetachedHead)
	}
	return nil
}

// CreateCommit implements spec §4.E create_commit steps 1-7: resolves the
// parent from the active branch's current HEAD, persists, and advances the
// ref.
func (e *Engine) CreateCommit(ctx context.Context, in CreateInput) (*model.Commit, error) {
	if err := e.requireBranch("create_commit"); err != nil {
		return nil, err
	}
	parentHash, err := e.st.Refs().Get(ctx, e.refName())
	if err != nil {
		if !isNotFound(err) {
			return nil, model.Wrap("create_commit", e.refName(), err)
		}
		parentHash = "" // new tract, no commits yet
	}

	commit, canonical, err := e.buildCommit(ctx, in, parentHash)
	if err != nil {
		return nil, err
	}

	if err := e.st.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := e.st.Blobs().SaveIfAbsent(ctx, commit.ContentHash, canonical); err != nil {
			return err
		}
		if err := e.st.Commits().Create(ctx, commit); err != nil {
			return err
		}
		return e.st.Refs().Set(ctx, e.refName(), e.tractID, commit.CommitHash)
	}); err != nil {
		return nil, model.Wrap("create_commit", commit.CommitHash, err)
	}
	commitHash := commit.CommitHash

	// Step 7: maintain the incremental cache (spec §4.F). A pure append with
	// no reply/edit side effect extends the cached snapshot in O(1);
	// anything else forces a full rebuild on next compile.
	extended := e.maintainCache(commit, in.Payload)

	// Step 6: evaluate the post-commit token budget. If the cache was
	// extended we already know the new total without recompiling; otherwise
	// fall back to a full compile.
	if e.budget.Enabled() && !e.policiesPaused {
		tokenTotal, berr := e.postCommitTokenTotal(ctx, commitHash, extended)
		if berr != nil {
			return nil, model.Wrap("create_commit", commitHash, berr)
		}
		if tokenTotal > e.budget.MaxTokens {
			switch e.budget.Mode {
			case BudgetReject:
				if rerr := e.rollbackCommit(ctx, commitHash, parentHash); rerr != nil {
					return nil, model.Wrap("create_commit", commitHash, rerr)
				}
				return nil, model.Wrap("create_commit", commitHash, model.ErrBudgetExceeded)
			case BudgetCallback:
				if e.budget.Callback != nil {
					if cbErr := e.budget.Callback(ctx, tokenTotal); cbErr != nil {
						if rerr := e.rollbackCommit(ctx, commitHash, parentHash); rerr != nil {
							return nil, model.Wrap("create_commit", commitHash, rerr)
						}
						return nil, model.Wrap("create_commit", commitHash, model.ErrBudgetExceeded)
					}
				}
			case BudgetWarn:
				// Log the breach and let the commit stand.
				log.Printf("create_commit %s: token budget exceeded (%d > %d)", commitHash, tokenTotal, e.budget.MaxTokens)
			}
		}
	}

	return commit, nil
}

// buildCommit validates and hashes a would-be commit against an explicit
// parentHash, without touching any ref. Shared by CreateCommit (parent =
// current branch HEAD) and ReplayCommit (parent = caller-supplied, used by
// rebase/compress to rebuild a chain under a new root).
func (e *Engine) buildCommit(ctx context.Context, in CreateInput, parentHash string) (*model.Commit, []byte, error) {
	if err := model.Validate(in.Payload, e.registry); err != nil {
		return nil, nil, model.Wrap("create_commit", string(in.Payload.Tag()), err)
	}
	canonical, err := hashing.Canonicalize(in.Payload)
	if err != nil {
		return nil, nil, model.Wrap("create_commit", "", err)
	}
	contentHash, err := hashing.ContentHash(in.Payload)
	if err != nil {
		return nil, nil, model.Wrap("create_commit", "", err)
	}

	genConfig := in.GenerationConfig
	if in.Operation == model.OpEdit {
		if in.EditTarget == "" {
			return nil, nil, model.Wrap("create_commit", "", fmt.Errorf("%w: edit requires edit_target", model.ErrValidation))
		}
		target, err := e.st.Commits().Get(ctx, in.EditTarget)
		if err != nil {
			return nil, nil, model.Wrap("create_commit", in.EditTarget, err)
		}
		if genConfig == nil {
			genConfig = target.GenerationConfig.Clone() // decision 01.3-01: inherit original's config
		}
	}

	message := synthesizeMessage(in.Payload, in.Message)
	createdAt := e.now()
	commitHash, err := hashing.CommitHash(e.tractID, contentHash, in.Payload.Tag(), parentHash, in.Operation, in.EditTarget, message, in.Metadata, genConfig, createdAt)
	if err != nil {
		return nil, nil, model.Wrap("create_commit", "", err)
	}

	commit := &model.Commit{
		CommitHash:       commitHash,
		TractID:          e.tractID,
		ContentHash:      contentHash,
		ContentType:      in.Payload.Tag(),
		ParentHash:       parentHash,
		Operation:        in.Operation,
		EditTarget:       in.EditTarget,
		Message:          message,
		Metadata:         in.Metadata,
		GenerationConfig: genConfig,
		CreatedAt:        createdAt,
		ReplyTo:          in.ReplyTo,
	}
	return commit, canonical, nil
}

// ReplayCommit persists a commit under an explicit parentHash without
// resolving or advancing any ref (spec §4.G rebase, §4.H compress chain
// rewriting). Callers are responsible for setting the branch ref once a
// full replayed chain is built, and for invalidating the cache.
func (e *Engine) ReplayCommit(ctx context.Context, parentHash string, in CreateInput) (*model.Commit, error) {
	commit, canonical, err := e.buildCommit(ctx, in, parentHash)
	if err != nil {
		return nil, err
	}
	if err := e.st.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := e.st.Blobs().SaveIfAbsent(ctx, commit.ContentHash, canonical); err != nil {
			return err
		}
		return e.st.Commits().Create(ctx, commit)
	}); err != nil {
		return nil, model.Wrap("replay_commit", commit.CommitHash, err)
	}
	return commit, nil
}

// rollbackCommit implements spec §4.E step 6's "reject rolls the commit
// back": deletes the just-created commit and restores the branch ref to
// what it pointed at before, then invalidates the cache.
func (e *Engine) rollbackCommit(ctx context.Context, commitHash, priorParent string) error {
	return e.st.WithinTx(ctx, func(ctx context.Context) error {
		if err := e.st.Commits().Delete(ctx, commitHash); err != nil {
			return err
		}
		if priorParent == "" {
			if err := e.st.Refs().Delete(ctx, e.refName()); err != nil {
				return err
			}
		} else if err := e.st.Refs().Set(ctx, e.refName(), e.tractID, priorParent); err != nil {
			return err
		}
		e.compiler.Cache().Invalidate()
		return nil
	})
}

// maintainCache applies spec §4.F's cache-maintenance rule and reports
// whether it extended (true) rather than invalidated (false) the cache.
func (e *Engine) maintainCache(commit *model.Commit, payload model.Payload) bool {
	if commit.Operation != model.OpAppend || commit.ReplyTo != "" || !e.compiler.CanExtend(commit.ParentHash) {
		e.compiler.Cache().Invalidate()
		return false
	}
	if _, err := e.compiler.ExtendAppendPayload(commit.CommitHash, commit.GenerationConfig, payload); err != nil {
		e.compiler.Cache().Invalidate()
		return false
	}
	return true
}

// postCommitTokenTotal returns the compiled token total including the
// commit just created (spec §4.E step 6). If the cache was just extended,
// its TokenCount already reflects the new commit; otherwise this forces a
// full compile.
func (e *Engine) postCommitTokenTotal(ctx context.Context, headHash string, extended bool) (int, error) {
	if extended {
		if snap, ok := e.compiler.Cache().Get(headHash); ok {
			return snap.TokenCount, nil
		}
	}
	cc, err := e.compiler.Compile(ctx, e.tractID, e.branch, compile.Options{})
	if err != nil {
		return 0, err
	}
	return cc.TokenCount, nil
}

// Annotate implements spec §4.E annotate: insert + invalidate.
func (e *Engine) Annotate(ctx context.Context, targetHash string, priority model.Priority, reason string) error {
	if _, err := e.st.Commits().Get(ctx, targetHash); err != nil {
		return model.Wrap("annotate", targetHash, err)
	}
	ann := &model.Annotation{TargetHash: targetHash, Priority: priority, Reason: reason, CreatedAt: e.now()}
	if err := e.st.Annotations().Insert(ctx, ann); err != nil {
		return model.Wrap("annotate", targetHash, err)
	}
	e.compiler.Cache().Invalidate()
	return nil
}

// RecordUsage implements spec §4.E record_usage: requires commitHash to be
// the current HEAD, overwrites token_count/token_source with the
// API-reported authoritative figures, and refreshes the snapshot's
// attribution for that commit.
func (e *Engine) RecordUsage(ctx context.Context, commitHash string, promptTokens, completionTokens int) error {
	head, err := e.st.Refs().Get(ctx, e.refName())
	if err != nil {
		return model.Wrap("record_usage", e.refName(), err)
	}
	if head != commitHash {
		return model.Wrap("record_usage", commitHash, fmt.Errorf("%w: not current HEAD", model.ErrValidation))
	}

	if _, ok := e.compiler.Cache().Get(head); !ok {
		if _, err := e.compiler.Compile(ctx, e.tractID, e.branch, compile.Options{}); err != nil {
			return model.Wrap("record_usage", commitHash, err)
		}
	}

	tokenCount := promptTokens + completionTokens
	tokenSource := apiTokenSource(promptTokens, completionTokens)
	if err := e.st.WithinTx(ctx, func(ctx context.Context) error {
		return e.st.Commits().UpdateUsage(ctx, commitHash, tokenCount, tokenSource)
	}); err != nil {
		return model.Wrap("record_usage", commitHash, err)
	}
	if !e.compiler.PatchUsage(commitHash, tokenCount) {
		e.compiler.Cache().Invalidate()
	}
	return nil
}

// Batch implements spec §4.E batch(): runs fn inside a deferred-persistence
// scope. All of fn's engine calls commit atomically on return, or roll back
// on error. LLM side-effect calls are the caller's responsibility to avoid;
// the engine has no LLM client reference to police that directly. Every
// exit, success or error, invalidates the compile cache.
func (e *Engine) Batch(ctx context.Context, fn func(ctx context.Context) error) error {
	defer e.compiler.Cache().Invalidate()
	return e.st.WithinTx(ctx, fn)
}

func synthesizeMessage(p model.Payload, explicit *string) string {
	if explicit != nil {
		return *explicit
	}
	text := p.PrimaryText()
	if len(text) > 72 {
		text = text[:72] + "…"
	}
	return fmt.Sprintf("%s: %s", p.Tag(), text)
}

func apiTokenSource(prompt, completion int) string {
	return fmt.Sprintf("api:%d+%d", prompt, completion)
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}

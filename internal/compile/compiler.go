package compile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tractvcs/tract/internal/model"
	"github.com/tractvcs/tract/internal/store"
	"github.com/tractvcs/tract/internal/tokencount"
)

// Compiler walks a tract's commit chain and reduces it to a bounded,
// ordered message sequence (spec §4.F). One Compiler (and its Cache) is
// owned exclusively by one tract handle.
type Compiler struct {
	st       store.Store
	counter  tokencount.Counter
	registry *model.Registry
	cache    Cache
}

// New builds a Compiler over st, counting tokens with counter.
func New(st store.Store, counter tokencount.Counter, registry *model.Registry) *Compiler {
	return &Compiler{st: st, counter: counter, registry: registry}
}

// Cache exposes the compiler's cache for the engine to invalidate or for
// tests to inspect hit/miss stats.
func (c *Compiler) Cache() *Cache { return &c.cache }

// CanExtend reports whether the cache currently holds a snapshot for
// parentHash, i.e. whether ExtendAppendPayload can run in O(1) instead of
// forcing the caller to fall back to a full Compile.
func (c *Compiler) CanExtend(parentHash string) bool {
	_, ok := c.cache.Get(parentHash)
	return ok
}

// ExtendAppendPayload decodes payload's role/text, counts its tokens, and
// extends the cached snapshot in place under commitHash (spec §4.F's O(1)
// append fast path). The caller must have already confirmed CanExtend and
// that commit is a live, non-SKIP, non-reply APPEND.
func (c *Compiler) ExtendAppendPayload(commitHash string, genConfig *model.GenerationConfig, payload model.Payload) (int, error) {
	text := payload.PrimaryText()
	role := DefaultRole(payload, c.registry)
	raw := rawMessage{
		CommitHash:       commitHash,
		GenerationConfig: genConfig,
		Role:             role,
		Text:             text,
	}
	return c.cache.ExtendAppend(commitHash, raw, c.counter)
}

// CountText exposes the compiler's token counter to collaborators (e.g.
// compress's default range resolution, spec §4.H step 1) that need to size
// commit text the same way a compile does, without re-deriving a Compiler
// of their own.
func (c *Compiler) CountText(text string) (int, error) {
	return c.counter.CountText(text)
}

// PatchUsage applies an authoritative token count to the cached snapshot's
// most recent raw message in place (spec §4.E record_usage "refresh the
// snapshot's token attribution for the referenced commit"), so the next
// Compile reflects it without a full tokenizer re-run. It only patches when
// commitHash is the snapshot's last (HEAD) entry; callers should fall back
// to Cache().Invalidate() when it returns false.
func (c *Compiler) PatchUsage(commitHash string, tokenCount int) bool {
	return c.cache.PatchUsage(commitHash, tokenCount)
}

// Options configures one compile call (spec §4.F signature:
// compile(as_of?, up_to?, include_edit_annotations?, order?)).
type Options struct {
	AsOf *time.Time
	UpTo string // commit hash to stop at, instead of HEAD
	// DetachedHead, if set, compiles from this commit hash directly instead
	// of resolving the branch's ref (spec §4.G detached HEAD). The snapshot
	// cache is bypassed in this mode since it is keyed per active branch.
	DetachedHead string
	Order        []string
}

// decodePayload turns a stored commit's blob bytes + content_type back
// into a model.Payload. Kept here (rather than in model) because only the
// compiler needs to round-trip blobs back to typed payloads; everything
// else works with raw bytes + content_hash.
func decodePayload(contentType model.ContentType, data []byte, registry *model.Registry) (model.Payload, error) {
	return decodeTypedPayload(contentType, data, registry)
}

// DecodePayload is decodePayload's exported form, for branch/compress to
// reconstruct a commit's typed payload when replaying it onto a new chain.
func DecodePayload(contentType model.ContentType, data []byte, registry *model.Registry) (model.Payload, error) {
	return decodeTypedPayload(contentType, data, registry)
}

// Compile reduces the chain rooted at HEAD (or opts.UpTo) into a
// CompiledContext (spec §4.F algorithm, steps 1-9).
func (c *Compiler) Compile(ctx context.Context, tractID, branch string, opts Options) (*CompiledContext, error) {
	useCache := opts.AsOf == nil && opts.UpTo == "" && len(opts.Order) == 0 && opts.DetachedHead == ""

	var headHash string
	if opts.DetachedHead != "" {
		headHash = opts.DetachedHead
		useCache = false
	} else {
		var err error
		headHash, err = c.st.Refs().Get(ctx, refName(branch))
		if err != nil {
			if emptyTract(err) {
				return &CompiledContext{HeadHash: ""}, nil
			}
			return nil, fmt.Errorf("compile: resolve HEAD: %w", err)
		}
	}

	if useCache {
		if snap, ok := c.cache.Get(headHash); ok {
			return snapshotToContext(snap), nil
		}
	}

	chainHead := headHash
	if opts.UpTo != "" {
		chainHead = opts.UpTo
	}

	chain, err := c.walkFirstParentChain(ctx, chainHead, opts.AsOf)
	if err != nil {
		return nil, fmt.Errorf("compile: walk chain: %w", err)
	}

	snap, err := c.buildSnapshot(ctx, tractID, headHash, chain)
	if err != nil {
		return nil, err
	}

	if useCache {
		c.cache.Set(snap)
	}

	result := snapshotToContext(snap)
	if len(opts.Order) > 0 {
		result, err = c.reorder(result, opts.Order, snap)
		if err != nil {
			return nil, fmt.Errorf("compile: reorder: %w", err)
		}
	}
	return result, nil
}

// walkFirstParentChain collects commits root-to-tip along parent_hash,
// optionally omitting any commit whose created_at is after asOf (spec
// §4.F step 2); the walk itself always continues to the root.
func (c *Compiler) walkFirstParentChain(ctx context.Context, head string, asOf *time.Time) ([]*model.Commit, error) {
	var chain []*model.Commit
	cursor := head
	for cursor != "" {
		commit, err := c.st.Commits().Get(ctx, cursor)
		if err != nil {
			return nil, err
		}
		if asOf == nil || !commit.CreatedAt.After(*asOf) {
			chain = append(chain, commit)
		}
		cursor = commit.ParentHash
	}
	// Reverse into root-to-tip order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// buildSnapshot implements spec §4.F steps 3-7: edit resolution, priority
// filtering, role mapping, same-role aggregation (after filtering -- see
// spec §9 open question, resolved in favor of "aggregate after filtering"),
// and token counting.
func (c *Compiler) buildSnapshot(ctx context.Context, tractID, headHash string, chain []*model.Commit) (*Snapshot, error) {
	// Step 3: edit resolution. Walk the chain and, for each EDIT commit,
	// record it as the (possibly repeated) override of its edit_target;
	// the latest EDIT by created_at wins, and since the chain is walked in
	// chronological (root-to-tip) order, a later EDIT simply overwrites an
	// earlier one's entry in the map.
	effective := make(map[string]*model.Commit) // edit_target -> latest editing commit
	var appends []*model.Commit                  // APPEND commits in original order
	for _, commit := range chain {
		if commit.Operation == model.OpEdit {
			effective[commit.EditTarget] = commit
		} else {
			appends = append(appends, commit)
		}
	}

	// Step 4: priority. Fetch every APPEND candidate's latest annotation in
	// one batched query, keyed by the APPEND commit's own hash (an EDIT
	// that resolves it is not looked up).
	targets := make([]string, 0, len(appends))
	for _, a := range appends {
		targets = append(targets, a.CommitHash)
	}
	latest, err := c.st.Annotations().BatchGetLatest(ctx, targets)
	if err != nil {
		return nil, fmt.Errorf("batch get annotations: %w", err)
	}

	var raws []rawMessage
	for _, a := range appends {
		if ann, ok := latest[a.CommitHash]; ok && ann.Priority == model.PrioritySkip {
			continue
		}
		effectiveCommit := a
		if edit, ok := effective[a.CommitHash]; ok {
			effectiveCommit = edit
		}
		payloadBytes, err := c.st.Blobs().Get(ctx, effectiveCommit.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("get blob for %s: %w", effectiveCommit.CommitHash, err)
		}
		payload, err := decodePayload(effectiveCommit.ContentType, payloadBytes, c.registry)
		if err != nil {
			return nil, fmt.Errorf("decode payload for %s: %w", effectiveCommit.CommitHash, err)
		}
		role := DefaultRole(payload, c.registry)
		text := payload.PrimaryText()

		raw := rawMessage{
			CommitHash:       a.CommitHash,
			GenerationConfig: effectiveCommit.GenerationConfig,
			Role:             role,
			Text:             text,
		}
		if tokencount.IsAPISource(effectiveCommit.TokenSource) && effectiveCommit.TokenCount > 0 {
			// Authoritative API usage replaces the local estimate for this
			// commit (spec §4.D); buildSnapshot honors it below when the
			// message survives aggregation on its own.
			raw.Tokens = effectiveCommit.TokenCount
			raw.Authoritative = true
		} else {
			tokens, err := c.counter.CountText(text)
			if err != nil {
				return nil, fmt.Errorf("count tokens: %w", err)
			}
			raw.Tokens = tokens
		}
		raws = append(raws, raw)
	}

	// Step 6-7: aggregate consecutive same-role raw messages (after SKIP
	// filtering, not before), then count tokens of each aggregated message
	// and sum -- never the raw per-commit counts, since the BPE encoding of
	// a merged "\n\n"-joined message is not the sum of its parts' encodings.
	aggregated, total, err := c.aggregateWithTokens(raws)
	if err != nil {
		return nil, err
	}

	editTargets := make(map[string]string, len(effective))
	for target, editCommit := range effective {
		editTargets[editCommit.CommitHash] = target
	}

	return &Snapshot{
		HeadHash:    headHash,
		Raw:         raws,
		Aggregated:  aggregated,
		TokenCount:  total,
		CommitCount: len(raws),
		EditTargets: editTargets,
	}, nil
}

// aggregateWithTokens merges consecutive same-role raw messages into
// Message entries and tokenizes each merged entry's Text (spec §4.F steps
// 6-7). A group consisting of exactly one raw message whose count is
// Authoritative (an API-reported figure from record_usage) keeps that
// exact count instead of re-tokenizing; a merged group's authoritative
// member share can't be isolated from the joined text, so merged groups
// always recount from the tokenizer.
func (c *Compiler) aggregateWithTokens(raws []rawMessage) ([]Message, int, error) {
	var groups [][]rawMessage
	for _, r := range raws {
		if n := len(groups); n > 0 && groups[n-1][0].Role == r.Role {
			groups[n-1] = append(groups[n-1], r)
		} else {
			groups = append(groups, []rawMessage{r})
		}
	}

	var out []Message
	total := 0
	for _, g := range groups {
		text := g[0].Text
		for _, r := range g[1:] {
			text += "\n\n" + r.Text
		}

		var tokens int
		if len(g) == 1 && g[0].Authoritative {
			tokens = g[0].Tokens
		} else {
			var err error
			tokens, err = c.counter.CountText(text)
			if err != nil {
				return nil, 0, fmt.Errorf("count aggregated tokens: %w", err)
			}
		}

		out = append(out, Message{Role: g[0].Role, Text: text, Tokens: tokens})
		total += tokens
	}
	return out, total, nil
}

func snapshotToContext(s *Snapshot) *CompiledContext {
	cc := &CompiledContext{
		HeadHash:    s.HeadHash,
		TokenCount:  s.TokenCount,
		CommitCount: s.CommitCount,
	}
	cc.Messages = append(cc.Messages, s.Aggregated...)
	for _, r := range s.Raw {
		cc.EffectiveCommitHashes = append(cc.EffectiveCommitHashes, r.CommitHash)
		cc.GenerationConfigs = append(cc.GenerationConfigs, r.GenerationConfig.Clone())
	}
	return cc
}

// DefaultRole resolves the message role for a decoded payload, honoring an
// explicit per-payload role (Dialogue) or the content type's default (spec
// §4.F step 5).
func DefaultRole(p model.Payload, registry *model.Registry) model.Role {
	return model.DefaultRole(p, registry)
}

func refName(branch string) string { return "HEAD/" + branch }

func emptyTract(err error) bool {
	return err != nil && isNotFound(err)
}

// Package compile implements the context compiler and its incremental
// snapshot cache (spec §4.F): walking the first-parent chain, resolving
// edits and priority annotations, aggregating same-role runs, counting
// tokens, and serving an O(1) fast path for pure-append extension.
package compile

import "github.com/tractvcs/tract/internal/model"

// Message is one aggregated entry of a compiled context. Tokens is counted
// on this entry's merged Text, post-aggregation (spec §4.F steps 6-7), not
// summed from the raw messages that fed it.
type Message struct {
	Role   model.Role
	Text   string
	Tokens int
}

// rawMessage is one pre-aggregation message: exactly one per surviving
// (non-SKIP, edit-resolved) commit. Tokens holds a local count for the
// commit's own text; Authoritative marks that the originating commit
// carries an API-reported token_count (spec §4.D, §4.E record_usage) that
// should be preferred over re-tokenizing, when this message ends up alone
// in its aggregated group.
type rawMessage struct {
	CommitHash       string
	GenerationConfig *model.GenerationConfig
	Role             model.Role
	Text             string
	Tokens           int
	Authoritative    bool
}

// Warning is a structural-safety note returned alongside a reordered
// compile (spec §4.I); it never blocks the result.
type Warning struct {
	Kind        string // "edit_before_target" | "response_chain_break"
	CommitHash  string
	Description string
}

// CompiledContext is the frozen output of a compile call (spec §4.F). Any
// slice/map field is a copy: observers cannot corrupt the cache by
// mutating what they were handed (copy-on-output, spec §4.F, §9).
type CompiledContext struct {
	Messages                []Message
	TokenCount              int
	CommitCount             int
	HeadHash                string
	EffectiveCommitHashes   []string
	GenerationConfigs       []*model.GenerationConfig // parallel to EffectiveCommitHashes
	Warnings                []Warning
}

// Clone returns a deep copy safe to hand to a caller or to store back in
// the cache independently of the original.
func (c *CompiledContext) Clone() *CompiledContext {
	if c == nil {
		return nil
	}
	clone := &CompiledContext{
		TokenCount:  c.TokenCount,
		CommitCount: c.CommitCount,
		HeadHash:    c.HeadHash,
	}
	clone.Messages = append(clone.Messages, c.Messages...)
	clone.EffectiveCommitHashes = append(clone.EffectiveCommitHashes, c.EffectiveCommitHashes...)
	for _, gc := range c.GenerationConfigs {
		clone.GenerationConfigs = append(clone.GenerationConfigs, gc.Clone())
	}
	clone.Warnings = append(clone.Warnings, c.Warnings...)
	return clone
}

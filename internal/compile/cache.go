package compile

import (
	"github.com/tractvcs/tract/internal/model"
	"github.com/tractvcs/tract/internal/tokencount"
)

// Snapshot is the cached materialization of the last compile for a tract's
// HEAD (spec §4.F "CompileSnapshot"): the ordered raw effective messages
// (one per contributing commit after edit/priority resolution) plus the
// derived same-role-aggregated message list, token count, and commit count.
//
// A Snapshot is owned exclusively by one tract handle (spec §5); no locking
// is needed.
type Snapshot struct {
	HeadHash    string
	Raw         []rawMessage
	Aggregated  []Message
	TokenCount  int
	CommitCount int
	// EditTargets maps a winning EDIT commit's hash to the hash of the
	// commit it targets, for the reorder structural-safety checks (spec
	// §4.I). Only the latest (winning) edit per target is recorded, since
	// a superseded edit never contributes to compiled output.
	EditTargets map[string]string
}

// Cache holds at most one Snapshot per tract handle plus a monotonic dirty
// counter used only for observability (how many times the cache was
// rebuilt from scratch vs. extended in place) -- grounded on the teacher's
// dirty-counter pattern in internal/storage/sqlite/dirty.go.
type Cache struct {
	snapshot   *Snapshot
	rebuilds   int
	extensions int
}

// Get returns the cached snapshot iff it was built for headHash.
func (c *Cache) Get(headHash string) (*Snapshot, bool) {
	if c.snapshot == nil || c.snapshot.HeadHash != headHash {
		return nil, false
	}
	return c.snapshot, true
}

// Set installs a freshly built snapshot, replacing whatever was cached.
func (c *Cache) Set(s *Snapshot) {
	c.snapshot = s
	c.rebuilds++
}

// Invalidate fully drops the cache. Any EDIT, annotate, history-rewriting
// operation, or batch-scope exit calls this (spec §4.F).
func (c *Cache) Invalidate() {
	c.snapshot = nil
}

// ExtendAppend advances a cached snapshot in O(1) amortized commits for a
// pure APPEND commit with no edit side effect (spec §4.F "the key
// optimization"): it appends the new raw message, merges it into the last
// aggregated message if the role matches, re-tokenizes that aggregated
// message's merged text (never just adds raw.Tokens -- a joined
// "\n\n"-separated message doesn't BPE-encode to the sum of its parts,
// spec §4.F steps 6-7), and moves HeadHash forward. The caller must have
// already confirmed the commit is a live, non-SKIP APPEND that does not
// target an existing commit. Returns the new total token count.
func (c *Cache) ExtendAppend(newHead string, raw rawMessage, counter tokencount.Counter) (int, error) {
	s := c.snapshot
	if s == nil {
		return 0, nil
	}
	s.HeadHash = newHead
	s.Raw = append(s.Raw, raw)
	s.CommitCount++

	if n := len(s.Aggregated); n > 0 && s.Aggregated[n-1].Role == raw.Role {
		merged := s.Aggregated[n-1].Text + "\n\n" + raw.Text
		tokens, err := counter.CountText(merged)
		if err != nil {
			return 0, err
		}
		s.TokenCount += tokens - s.Aggregated[n-1].Tokens
		s.Aggregated[n-1].Text = merged
		s.Aggregated[n-1].Tokens = tokens
	} else {
		tokens, err := counter.CountText(raw.Text)
		if err != nil {
			return 0, err
		}
		s.Aggregated = append(s.Aggregated, Message{Role: raw.Role, Text: raw.Text, Tokens: tokens})
		s.TokenCount += tokens
	}
	c.extensions++
	return s.TokenCount, nil
}

// PatchUsage updates the cached snapshot's most recent raw message and its
// owning aggregated entry with an authoritative token count (spec §4.E
// record_usage), without a full rebuild. It only applies when commitHash is
// the snapshot's last raw entry (record_usage requires HEAD, so this is the
// only position it can ever occupy); returns false otherwise, or when there
// is no cached snapshot at all, so the caller can fall back to Invalidate.
//
// When that entry was merged with earlier same-role messages, its exact
// share of the merged (and already-tokenized) text can't be isolated, so
// the merged group's count is adjusted by this commit's local-vs-authoritative
// delta rather than replaced outright.
func (c *Cache) PatchUsage(commitHash string, tokenCount int) bool {
	s := c.snapshot
	if s == nil || len(s.Raw) == 0 {
		return false
	}
	last := len(s.Raw) - 1
	if s.Raw[last].CommitHash != commitHash {
		return false
	}

	groupSize := 1
	for i := last - 1; i >= 0 && s.Raw[i].Role == s.Raw[last].Role; i-- {
		groupSize++
	}

	n := len(s.Aggregated)
	if n == 0 {
		return false
	}

	if groupSize == 1 {
		delta := tokenCount - s.Aggregated[n-1].Tokens
		s.Aggregated[n-1].Tokens = tokenCount
		s.TokenCount += delta
	} else {
		delta := tokenCount - s.Raw[last].Tokens
		s.Aggregated[n-1].Tokens += delta
		s.TokenCount += delta
	}

	s.Raw[last].Tokens = tokenCount
	s.Raw[last].Authoritative = true
	return true
}

// Stats reports cache activity for observability/tests (spec §8 scenario 4
// "observable via a counter fixture").
func (c *Cache) Stats() (rebuilds, extensions int) {
	return c.rebuilds, c.extensions
}

func cloneGenConfig(g *model.GenerationConfig) *model.GenerationConfig { return g.Clone() }

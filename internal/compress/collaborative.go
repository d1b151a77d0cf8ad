package compress

import (
	"context"
	"fmt"

	"github.com/tractvcs/tract/internal/model"
)

// PendingCompression holds a collaborative compression's hidden state
// (spec §4.H step 4, §9 "collaborative returns a PendingCompression
// object holding the draft and all hidden state"): the caller reviews
// Drafts (one entry per NORMAL segment, "" for pinned segments) and
// supplies replacements to Approve.
type PendingCompression struct {
	plan  *Plan
	opts  Options
	// Drafts mirrors plan.Segments: "" for a pinned segment, an empty
	// string placeholder for a NORMAL segment awaiting a human draft.
	Drafts []string
}

// PlanCollaborative resolves and partitions the range, returning a collaborative
// pending object with no summary produced yet and nothing committed.
func (m *Manager) PlanCollaborative(ctx context.Context, opts Options) (*PendingCompression, error) {
	plan, err := m.Plan(ctx, opts)
	if err != nil {
		return nil, err
	}
	drafts := make([]string, len(plan.Segments))
	return &PendingCompression{plan: plan, opts: opts, Drafts: drafts}, nil
}

// GroupCount reports how many NORMAL segments need a draft.
func (p *PendingCompression) GroupCount() int {
	n := 0
	for _, seg := range p.plan.Segments {
		if seg.pinned == nil {
			n++
		}
	}
	return n
}

// SetDraft assigns draft text to the groupIndex-th NORMAL segment (0-based,
// counting only NORMAL segments, skipping pinned ones).
func (p *PendingCompression) SetDraft(groupIndex int, text string) error {
	i := 0
	for idx, seg := range p.plan.Segments {
		if seg.pinned != nil {
			continue
		}
		if i == groupIndex {
			p.Drafts[idx] = text
			return nil
		}
		i++
	}
	return fmt.Errorf("compress: %w: group index %d out of range", model.ErrValidation, groupIndex)
}

// Approve commits the pending compression: any NORMAL segment without a
// draft is replayed un-summarized, exactly as manual mode's trailing
// groups (spec §4.H step 4's "commits only on approve()").
func (m *Manager) Approve(ctx context.Context, p *PendingCompression) (*Result, error) {
	return m.commitPlan(ctx, p.plan, p.opts, p.Drafts)
}

// Package compress implements history compaction (spec §4.H): resolve a
// range, classify each commit by priority annotation, partition the
// NORMAL runs into groups bounded by PINNED commits, summarize each group
// (autonomous/collaborative/manual), and rewrite the chain in place.
package compress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tractvcs/tract/internal/compile"
	"github.com/tractvcs/tract/internal/engine"
	"github.com/tractvcs/tract/internal/llmclient"
	"github.com/tractvcs/tract/internal/model"
	"github.com/tractvcs/tract/internal/store"
)

// Autonomy selects how a compression's summaries get produced (spec §4.H,
// §9 "Autonomy mode").
type Autonomy string

const (
	AutonomyAutonomous   Autonomy = "autonomous"
	AutonomyCollaborative Autonomy = "collaborative"
	AutonomyManual       Autonomy = "manual"
)

// Options configures one compress call (spec §4.H signature).
type Options struct {
	// Commits, if set, is the explicit range (chronological order).
	Commits []string
	// RangeStart/RangeEnd bound a first-parent-chain range (inclusive) when
	// Commits is empty. This implementation only supports ranges that
	// extend through HEAD, since commits after the range would otherwise
	// dangle on a now-rewritten parent chain (the source does not need to
	// handle this because it never had to keep a native parent pointer
	// intact); a RangeEnd other than HEAD fails with ErrInvalidRange. Both
	// empty means the default: the longest prefix of history walking back
	// from HEAD that fits within TargetTokens (spec §4.H step 1), or the
	// whole history when TargetTokens is not positive.
	RangeStart, RangeEnd string

	// TargetTokens bounds the default range (see RangeStart/RangeEnd) and
	// is passed to the LLM as the target length of each group's summary.
	TargetTokens int
	Autonomy     Autonomy
	// Content is used verbatim as the first group's summary when
	// Autonomy == AutonomyManual.
	Content      string
	Instructions string
	LLM          llmclient.Client
}

// Segment is one unit of the partitioned range: either a single PINNED
// commit (replayed verbatim) or a run of NORMAL commits (summarized as a
// unit). SKIP commits never become a segment.
type segment struct {
	pinned  *model.Commit
	normals []*model.Commit
}

// Manager runs compress over one tract, sharing its store/compiler/engine
// so results flow through the same budget/cache path as any other commit.
type Manager struct {
	st       store.Store
	compiler *compile.Compiler
	engine   *engine.Engine
	tractID  string
}

// New builds a compress manager bound to eng's tract.
func New(st store.Store, compiler *compile.Compiler, eng *engine.Engine) *Manager {
	return &Manager{st: st, compiler: compiler, engine: eng, tractID: eng.TractID()}
}

// Result reports what Compress produced.
type Result struct {
	EventID      string
	SourceHashes []string
	ResultHashes []string
	NewHead      string
}

// Compress runs the full autonomous/manual compression synchronously.
// Collaborative callers use PlanCollaborative + Approve instead.
func (m *Manager) Compress(ctx context.Context, opts Options) (*Result, error) {
	if opts.Autonomy == AutonomyCollaborative {
		return nil, fmt.Errorf("compress: %w: collaborative autonomy requires Plan+Approve", model.ErrValidation)
	}
	plan, err := m.Plan(ctx, opts)
	if err != nil {
		return nil, err
	}
	drafts, err := m.summarizeGroups(ctx, plan, opts)
	if err != nil {
		return nil, err
	}
	return m.commitPlan(ctx, plan, opts, drafts)
}

// resolveRange implements spec §4.H step 1.
func (m *Manager) resolveRange(ctx context.Context, opts Options) ([]*model.Commit, error) {
	if len(opts.Commits) > 0 {
		out := make([]*model.Commit, 0, len(opts.Commits))
		for _, h := range opts.Commits {
			c, err := m.st.Commits().Get(ctx, h)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}

	head, err := m.engine.CurrentHead(ctx)
	if err != nil {
		return nil, err
	}
	if head == "" {
		return nil, fmt.Errorf("compress: %w: empty tract", model.ErrNotFound)
	}

	if opts.RangeStart == "" && opts.RangeEnd == "" {
		return m.resolveDefaultRange(ctx, head, opts.TargetTokens)
	}

	start := opts.RangeStart
	end := opts.RangeEnd
	if end == "" {
		end = head
	}
	if end != head {
		return nil, fmt.Errorf("compress: %w: range_end %s is not HEAD", model.ErrInvalidRange, end)
	}

	var chain []*model.Commit
	cursor := end
	for cursor != "" {
		c, err := m.st.Commits().Get(ctx, cursor)
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
		if cursor == start {
			break
		}
		cursor = c.ParentHash
	}
	// Reverse into chronological order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	if start != "" && (len(chain) == 0 || chain[0].CommitHash != start) {
		return nil, fmt.Errorf("compress: %w: range_start %s not an ancestor of range_end", model.ErrInvalidRange, start)
	}
	return chain, nil
}

// resolveDefaultRange implements spec §4.H step 1's third path: with no
// explicit commits and no explicit range, the range is the longest prefix
// of history -- walking back from HEAD -- that fits within targetTokens,
// not the entire history. HEAD itself always compresses (there is no
// narrower "policy-bounded" answer than one commit); a non-positive
// targetTokens means no policy was given, so the default falls back to the
// whole history, same as passing range=(root, HEAD).
func (m *Manager) resolveDefaultRange(ctx context.Context, head string, targetTokens int) ([]*model.Commit, error) {
	headCommit, err := m.st.Commits().Get(ctx, head)
	if err != nil {
		return nil, err
	}
	chain := []*model.Commit{headCommit}

	if targetTokens <= 0 {
		for cursor := headCommit.ParentHash; cursor != ""; {
			c, err := m.st.Commits().Get(ctx, cursor)
			if err != nil {
				return nil, err
			}
			chain = append(chain, c)
			cursor = c.ParentHash
		}
	} else {
		spent, err := m.commitTokens(ctx, headCommit)
		if err != nil {
			return nil, err
		}
		for cursor := headCommit.ParentHash; cursor != "" && spent < targetTokens; {
			c, err := m.st.Commits().Get(ctx, cursor)
			if err != nil {
				return nil, err
			}
			tokens, err := m.commitTokens(ctx, c)
			if err != nil {
				return nil, err
			}
			if spent+tokens > targetTokens {
				break
			}
			chain = append(chain, c)
			spent += tokens
			cursor = c.ParentHash
		}
	}

	// Reverse into chronological order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (m *Manager) commitTokens(ctx context.Context, c *model.Commit) (int, error) {
	payload, err := m.decodePayload(ctx, c)
	if err != nil {
		return 0, err
	}
	return m.compiler.CountText(payload.PrimaryText())
}

// partition implements spec §4.H steps 2-3: classify by latest annotation,
// drop SKIP, and split NORMAL runs into groups bounded by PINNED commits.
func (m *Manager) partition(ctx context.Context, rng []*model.Commit) ([]segment, error) {
	hashes := make([]string, len(rng))
	for i, c := range rng {
		hashes[i] = c.CommitHash
	}
	latest, err := m.st.Annotations().BatchGetLatest(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("compress: batch get annotations: %w", err)
	}

	var segments []segment
	var currentNormals []*model.Commit
	flush := func() {
		if len(currentNormals) > 0 {
			segments = append(segments, segment{normals: currentNormals})
			currentNormals = nil
		}
	}
	for _, c := range rng {
		priority := model.PriorityNormal
		if ann, ok := latest[c.CommitHash]; ok {
			priority = ann.Priority
		}
		switch priority {
		case model.PrioritySkip:
			continue
		case model.PriorityPinned:
			flush()
			segments = append(segments, segment{pinned: c})
		default:
			currentNormals = append(currentNormals, c)
		}
	}
	flush()
	return segments, nil
}

// Plan resolves and partitions opts's range without producing any summary
// or touching the store; shared by Compress and the collaborative path.
type Plan struct {
	Range    []*model.Commit
	Segments []segment
	NewBase  string // parent of Range[0]
}

func (m *Manager) Plan(ctx context.Context, opts Options) (*Plan, error) {
	rng, err := m.resolveRange(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(rng) == 0 {
		return nil, fmt.Errorf("compress: %w: empty range", model.ErrInvalidRange)
	}
	segments, err := m.partition(ctx, rng)
	if err != nil {
		return nil, err
	}
	return &Plan{Range: rng, Segments: segments, NewBase: rng[0].ParentHash}, nil
}

func (m *Manager) decodePayload(ctx context.Context, c *model.Commit) (model.Payload, error) {
	data, err := m.st.Blobs().Get(ctx, c.ContentHash)
	if err != nil {
		return nil, err
	}
	return compile.DecodePayload(c.ContentType, data, m.engine.Registry())
}

// summarizeGroups produces the text for each NORMAL segment per opts's
// autonomy mode (spec §4.H step 4). Index i of the returned slice
// corresponds to plan.Segments[i]; entries for pinned segments are "".
func (m *Manager) summarizeGroups(ctx context.Context, plan *Plan, opts Options) ([]string, error) {
	drafts := make([]string, len(plan.Segments))
	firstNormalSeen := false
	for i, seg := range plan.Segments {
		if seg.pinned != nil {
			continue
		}
		switch opts.Autonomy {
		case AutonomyManual:
			if !firstNormalSeen {
				drafts[i] = opts.Content
				firstNormalSeen = true
			}
			// Remaining NORMAL groups stay "" -- commitPlan replays their
			// original commits unsummarized in that case.
		case AutonomyAutonomous:
			text, err := m.summarizeWithLLM(ctx, seg.normals, opts)
			if err != nil {
				return nil, err
			}
			drafts[i] = text
		default:
			return nil, fmt.Errorf("compress: %w: unsupported autonomy %q for direct summarization", model.ErrValidation, opts.Autonomy)
		}
	}
	return drafts, nil
}

func (m *Manager) summarizeWithLLM(ctx context.Context, group []*model.Commit, opts Options) (string, error) {
	if opts.LLM == nil {
		return "", fmt.Errorf("compress: %w: autonomous compression requires an llm_client", model.ErrLLMConfig)
	}
	transcript, err := m.formatGroup(ctx, group)
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf(
		"Summarize the following conversation segment into a single coherent message, preserving essential facts and decisions. Target length: roughly %d tokens.\n%s\n\n%s",
		opts.TargetTokens, opts.Instructions, transcript,
	)
	resp, err := opts.LLM.Complete(ctx, "claude-sonnet-4-5", prompt, 1024)
	if err != nil {
		return "", fmt.Errorf("compress: summarize: %w", err)
	}
	return resp.Text, nil
}

func (m *Manager) formatGroup(ctx context.Context, group []*model.Commit) (string, error) {
	var out string
	for _, c := range group {
		payload, err := m.decodePayload(ctx, c)
		if err != nil {
			return "", err
		}
		out += fmt.Sprintf("[%s] %s\n", c.ContentType, payload.PrimaryText())
	}
	return out, nil
}

// commitPlan implements spec §4.H steps 5-7: rewrite the chain from
// plan.NewBase, replaying PINNED commits verbatim and summary/replay
// commits for NORMAL segments, then record the compress event and
// invalidate the cache.
func (m *Manager) commitPlan(ctx context.Context, plan *Plan, opts Options, drafts []string) (*Result, error) {
	var resultHashes []string
	parent := plan.NewBase
	for i, seg := range plan.Segments {
		if seg.pinned != nil {
			payload, err := m.decodePayload(ctx, seg.pinned)
			if err != nil {
				return nil, err
			}
			in := engine.CreateInput{
				Payload:          payload,
				Operation:        model.OpAppend,
				Message:          strPtr(seg.pinned.Message),
				ReplyTo:          seg.pinned.ReplyTo,
				Metadata:         seg.pinned.Metadata,
				GenerationConfig: seg.pinned.GenerationConfig.Clone(),
			}
			newCommit, err := m.engine.ReplayCommit(ctx, parent, in)
			if err != nil {
				return nil, fmt.Errorf("compress: replay pinned %s: %w", seg.pinned.CommitHash, err)
			}
			parent = newCommit.CommitHash
			resultHashes = append(resultHashes, parent)
			continue
		}

		if drafts[i] == "" {
			// Manual mode's un-summarized trailing groups: replay each
			// original commit individually, unchanged.
			for _, c := range seg.normals {
				payload, err := m.decodePayload(ctx, c)
				if err != nil {
					return nil, err
				}
				in := engine.CreateInput{
					Payload:          payload,
					Operation:        model.OpAppend,
					Message:          strPtr(c.Message),
					ReplyTo:          c.ReplyTo,
					Metadata:         c.Metadata,
					GenerationConfig: c.GenerationConfig.Clone(),
				}
				newCommit, err := m.engine.ReplayCommit(ctx, parent, in)
				if err != nil {
					return nil, fmt.Errorf("compress: replay %s: %w", c.CommitHash, err)
				}
				parent = newCommit.CommitHash
				resultHashes = append(resultHashes, parent)
			}
			continue
		}

		summaryConfig := &model.GenerationConfig{Extra: map[string]interface{}{
			"instructions": opts.Instructions,
			"autonomy":     string(opts.Autonomy),
		}}
		in := engine.CreateInput{
			Payload:          model.Output{Text: drafts[i]},
			Operation:        model.OpAppend,
			GenerationConfig: summaryConfig,
		}
		newCommit, err := m.engine.ReplayCommit(ctx, parent, in)
		if err != nil {
			return nil, fmt.Errorf("compress: commit summary: %w", err)
		}
		parent = newCommit.CommitHash
		resultHashes = append(resultHashes, parent)
	}

	if parent == "" {
		if err := m.engine.ResetRef(ctx, ""); err != nil {
			return nil, fmt.Errorf("compress: reset ref: %w", err)
		}
	} else if err := m.engine.ResetRef(ctx, parent); err != nil {
		return nil, fmt.Errorf("compress: advance ref: %w", err)
	}
	m.compiler.Cache().Invalidate()

	sourceHashes := make([]string, len(plan.Range))
	for i, c := range plan.Range {
		sourceHashes[i] = c.CommitHash
	}
	eventID, err := m.recordEvent(ctx, sourceHashes, resultHashes, opts)
	if err != nil {
		return nil, err
	}

	return &Result{EventID: eventID, SourceHashes: sourceHashes, ResultHashes: resultHashes, NewHead: parent}, nil
}

func (m *Manager) recordEvent(ctx context.Context, sources, results []string, opts Options) (string, error) {
	event := &model.OperationEvent{
		EventID:   uuid.NewString(),
		TractID:   m.tractID,
		Kind:      model.EventCompress,
		CreatedAt: time.Now().UTC(),
		Params: map[string]interface{}{
			"target_tokens": opts.TargetTokens,
			"instructions":  opts.Instructions,
			"autonomy":      string(opts.Autonomy),
		},
	}
	if err := m.st.Events().SaveEvent(ctx, event); err != nil {
		return "", err
	}
	for _, h := range sources {
		if err := m.st.Events().AddCommit(ctx, event.EventID, model.RoleSource, h); err != nil {
			return "", err
		}
	}
	for _, h := range results {
		if err := m.st.Events().AddCommit(ctx, event.EventID, model.RoleResult, h); err != nil {
			return "", err
		}
	}
	return event.EventID, nil
}

func strPtr(s string) *string { return &s }

package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/tractvcs/tract/internal/compile"
	"github.com/tractvcs/tract/internal/compress"
	"github.com/tractvcs/tract/internal/engine"
	"github.com/tractvcs/tract/internal/llmclient"
	"github.com/tractvcs/tract/internal/model"
	"github.com/tractvcs/tract/internal/store"
	"github.com/tractvcs/tract/internal/tokencount"
)

// Session is a multi-tract container (spec §4.J): one store connection
// shared by every Tract it opens, a sessions/tracts/spawn_edges registry,
// and the cross-tract operations (timeline, search, spawn/collapse) that
// need to see more than one tract at a time.
type Session struct {
	id       string
	st       store.Store
	registry *model.Registry
	counter  tokencount.Counter
	budget   *engine.TokenBudgetConfig
	llm      llmclient.Client

	mu     sync.Mutex
	tracts map[string]*Tract
}

// Config bundles the shared dependencies every Tract a Session opens is
// constructed with.
type Config struct {
	Store    store.Store
	Registry *model.Registry
	Counter  tokencount.Counter
	Budget   *engine.TokenBudgetConfig
	LLM      llmclient.Client
}

// New opens a session, creating its registry row if absent.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Registry == nil {
		cfg.Registry = model.NewRegistry()
	}
	s := &Session{
		id:       uuid.NewString(),
		st:       cfg.Store,
		registry: cfg.Registry,
		counter:  cfg.Counter,
		budget:   cfg.Budget,
		llm:      cfg.LLM,
		tracts:   make(map[string]*Tract),
	}
	if err := cfg.Store.Sessions().CreateSession(ctx, s.id, time.Now().UTC()); err != nil {
		return nil, model.Wrap("session.new", "", err)
	}
	return s, nil
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

func (s *Session) openTract(tractID string) *Tract {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tracts[tractID]; ok {
		return t
	}
	t := FromComponents(Components{
		Store:    s.st,
		TractID:  tractID,
		Registry: s.registry,
		Counter:  s.counter,
		Budget:   s.budget,
		LLM:      s.llm,
	})
	s.tracts[tractID] = t
	return t
}

// CreateTract implements spec §4.J create_tract(*, display_name?).
func (s *Session) CreateTract(ctx context.Context, displayName string) (*Tract, error) {
	tractID := uuid.NewString()
	meta := model.TractMeta{
		TractID:     tractID,
		SessionID:   s.id,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.st.Sessions().CreateTract(ctx, meta); err != nil {
		return nil, model.Wrap("create_tract", tractID, err)
	}
	return s.openTract(tractID), nil
}

// Spawn implements spec §4.J spawn(parent, *, purpose): a new, independent
// child tract whose origin is recorded against the parent's current HEAD.
func (s *Session) Spawn(ctx context.Context, parent *Tract, purpose string) (*Tract, error) {
	spawnPoint, err := parent.engine.CurrentHead(ctx)
	if err != nil {
		return nil, model.Wrap("spawn", parent.id, err)
	}
	child, err := s.CreateTract(ctx, fmt.Sprintf("%s/spawn", parent.id))
	if err != nil {
		return nil, err
	}
	edge := model.SpawnEdge{
		ChildTractID:  child.id,
		ParentTractID: parent.id,
		SpawnPoint:    spawnPoint,
		Purpose:       purpose,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.st.Sessions().RecordSpawn(ctx, edge); err != nil {
		return nil, model.Wrap("spawn", child.id, err)
	}
	return child, nil
}

// CollapseOptions configures a child→parent collapse (spec §4.J collapse).
type CollapseOptions struct {
	Autonomy compress.Autonomy
	Content  string // manual-autonomy summary text; required when Autonomy == compress.AutonomyManual
}

// Collapse implements spec §4.J collapse(child, into=parent, *, content?,
// autonomy?): summarizes the child tract's full history and appends one
// commit to the parent referencing the child's final HEAD.
func (s *Session) Collapse(ctx context.Context, child, parent *Tract, opts CollapseOptions) (*model.Commit, error) {
	childHead, err := child.engine.CurrentHead(ctx)
	if err != nil {
		return nil, model.Wrap("collapse", child.id, err)
	}

	summary := opts.Content
	if opts.Autonomy != compress.AutonomyManual {
		childLog, err := child.Log(ctx, 0)
		if err != nil {
			return nil, model.Wrap("collapse", child.id, err)
		}
		summary, err = summarizeChild(ctx, childLog, parent.llm)
		if err != nil {
			return nil, model.Wrap("collapse", child.id, err)
		}
	}
	if summary == "" {
		return nil, model.Wrap("collapse", child.id, fmt.Errorf("%w: collapse requires non-empty content", model.ErrValidation))
	}

	message := fmt.Sprintf("collapsed from tract %s @ %s", child.id, childHead)
	return parent.Commit(ctx, engine.CreateInput{
		Payload:   model.Session{SessionType: model.SessionEnd, Summary: summary},
		Operation: model.OpAppend,
		Message:   &message,
		Metadata: map[string]string{
			"collapsed_from_tract": child.id,
			"collapsed_from_head":  childHead,
		},
	})
}

func summarizeChild(ctx context.Context, commits []*model.Commit, llm llmclient.Client) (string, error) {
	var transcript strings.Builder
	for _, c := range commits {
		fmt.Fprintf(&transcript, "[%s] %s\n", c.ContentType, c.Message)
	}
	if llm == nil || len(commits) == 0 {
		return strings.TrimSpace(transcript.String()), nil
	}
	resp, err := llm.Complete(ctx, "claude-sonnet-4-5", fmt.Sprintf("Summarize this conversation segment:\n%s", transcript.String()), 512)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// TimelineEntry is one commit surfaced by Session.Timeline, annotated with
// the tract it belongs to.
type TimelineEntry struct {
	TractID string
	Commit  *model.Commit
}

// Timeline implements spec §4.J timeline(): merge-iterates commits across
// every tract in the session ordered by created_at.
func (s *Session) Timeline(ctx context.Context) ([]TimelineEntry, error) {
	tracts, err := s.st.Sessions().ListTracts(ctx, s.id)
	if err != nil {
		return nil, model.Wrap("timeline", s.id, err)
	}

	perTract := make([][]*model.Commit, len(tracts))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tracts {
		i, t := i, t
		g.Go(func() error {
			commits, err := s.st.Commits().GetByTract(gctx, t.TractID, 0)
			if err != nil {
				return err
			}
			perTract[i] = commits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, model.Wrap("timeline", s.id, err)
	}

	var out []TimelineEntry
	for i, t := range tracts {
		for _, c := range perTract[i] {
			out = append(out, TimelineEntry{TractID: t.TractID, Commit: c})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Commit.CreatedAt.Before(out[j].Commit.CreatedAt)
	})
	return out, nil
}

// Search implements spec §4.J search(term): a substring match across every
// commit's serialized payload, scoped to this session's tracts.
func (s *Session) Search(ctx context.Context, term string) ([]TimelineEntry, error) {
	entries, err := s.Timeline(ctx)
	if err != nil {
		return nil, err
	}
	var matched []TimelineEntry
	for _, e := range entries {
		data, err := s.st.Blobs().Get(ctx, e.Commit.ContentHash)
		if err != nil {
			continue // blob may have been GC'd out from under a live commit row
		}
		if strings.Contains(string(data), term) || strings.Contains(e.Commit.Message, term) {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

// CompileAt implements spec §4.J compile_at(tract_id, at_time): session-
// level time-travel compile delegating to the named tract's own compiler.
func (s *Session) CompileAt(ctx context.Context, tractID string, atTime time.Time) (*compile.CompiledContext, error) {
	t := s.openTract(tractID)
	return t.Compile(ctx, compile.Options{AsOf: &atTime})
}

// Resume implements spec §4.J resume(): the tract with the most recently
// created commit in this session, enabling handoff between callers.
func (s *Session) Resume(ctx context.Context) (*Tract, error) {
	tractID, err := s.st.Sessions().MostRecentTract(ctx, s.id)
	if err != nil {
		return nil, model.Wrap("resume", s.id, err)
	}
	return s.openTract(tractID), nil
}

// ListTracts implements spec §4.J list_tracts().
func (s *Session) ListTracts(ctx context.Context) ([]model.TractMeta, error) {
	return s.st.Sessions().ListTracts(ctx, s.id)
}

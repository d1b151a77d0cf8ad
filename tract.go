// Package tract is the public facade over the version-controlled,
// content-addressed commit-graph store for LLM conversation context.
//
// Most callers only need Open (a single tract backed by its own database
// file or an in-memory store) or OpenSession (many tracts sharing one
// database, with spawn/collapse/timeline/search across them). The
// internal/* packages implement the storage, commit, compile, branch,
// compress, and gc engines this facade wires together; this file exists
// so library consumers import one path and one set of names.
package tract

import (
	"context"
	"fmt"

	"github.com/tractvcs/tract/internal/branch"
	"github.com/tractvcs/tract/internal/compile"
	"github.com/tractvcs/tract/internal/compress"
	"github.com/tractvcs/tract/internal/engine"
	"github.com/tractvcs/tract/internal/gc"
	"github.com/tractvcs/tract/internal/llmclient"
	"github.com/tractvcs/tract/internal/model"
	"github.com/tractvcs/tract/internal/session"
	"github.com/tractvcs/tract/internal/store"
	"github.com/tractvcs/tract/internal/store/sqlite"
	"github.com/tractvcs/tract/internal/tokencount"

	"github.com/google/uuid"
)

// Core types re-exported for convenience, so callers need only this
// package's import path for everyday use (spec §6 Tract surface).
type (
	Tract             = session.Tract
	Session           = session.Session
	CreateInput       = engine.CreateInput
	CompiledContext   = compile.CompiledContext
	CompileOptions    = compile.Options
	Commit            = model.Commit
	Payload           = model.Payload
	Priority          = model.Priority
	Operation         = model.Operation
	ContentType       = model.ContentType
	GenerationConfig  = model.GenerationConfig
	Registry          = model.Registry
	RegistryEntry     = model.RegistryEntry
	TokenBudgetConfig = engine.TokenBudgetConfig
	BudgetMode        = engine.BudgetMode
	MergeStrategy     = branch.Strategy
	MergeResult       = branch.MergeResult
	RebaseResult      = branch.RebaseResult
	CompressOptions   = compress.Options
	CompressResult    = compress.Result
	CompressAutonomy  = compress.Autonomy
	PendingCompression = compress.PendingCompression
	GCOptions         = gc.Options
	GCResult          = gc.Result
	LLMClient         = llmclient.Client
	CollapseOptions   = session.CollapseOptions
	TimelineEntry     = session.TimelineEntry

	// Built-in payload variants (spec §3).
	Instruction = model.Instruction
	Dialogue    = model.Dialogue
	ToolIO      = model.ToolIO
	Reasoning   = model.Reasoning
	Artifact    = model.Artifact
	Output      = model.Output
	Freeform    = model.Freeform
	SessionPayload = model.Session
	Role        = model.Role
)

// Priority values (spec §3).
const (
	PriorityPinned = model.PriorityPinned
	PriorityNormal = model.PriorityNormal
	PrioritySkip   = model.PrioritySkip
)

// Operation values (spec §3).
const (
	OpAppend = model.OpAppend
	OpEdit   = model.OpEdit
)

// Message roles (spec §3).
const (
	RoleSystem    = model.RoleSystem
	RoleUser      = model.RoleUser
	RoleAssistant = model.RoleAssistant
)

// Content type tags (spec §3).
const (
	TypeInstruction = model.TypeInstruction
	TypeDialogue    = model.TypeDialogue
	TypeToolIO      = model.TypeToolIO
	TypeReasoning   = model.TypeReasoning
	TypeArtifact    = model.TypeArtifact
	TypeOutput      = model.TypeOutput
	TypeFreeform    = model.TypeFreeform
	TypeSession     = model.TypeSession
)

// Token budget modes (spec §6 TokenBudgetConfig.mode).
const (
	BudgetWarn     = engine.BudgetWarn
	BudgetReject   = engine.BudgetReject
	BudgetCallback = engine.BudgetCallback
)

// Merge strategies (spec §4.G).
const (
	MergeFastForward = branch.StrategyFastForward
	MergeOurs        = branch.StrategyOurs
	MergeTheirs      = branch.StrategyTheirs
	MergeThreeWay    = branch.StrategyThreeWay
	MergeLLMSemantic = branch.StrategyLLMSemantic
)

// Compression autonomy modes (spec §4.H).
const (
	AutonomyAutonomous   = compress.AutonomyAutonomous
	AutonomyCollaborative = compress.AutonomyCollaborative
	AutonomyManual       = compress.AutonomyManual
)

// Options configures Open and OpenSession.
type Options struct {
	// TractID, for Open only: the tract to attach to. Generated if empty.
	TractID string

	// Registry holds custom content-type definitions (spec §3 custom
	// variant, §6 register_content_type). A fresh registry is used if nil.
	Registry *Registry

	// Encoding names the tiktoken encoding used to count tokens (spec §4.D).
	// Defaults to "cl100k_base" if empty.
	Encoding string

	// Budget configures the token-budget policy (spec §4.E). Nil disables it.
	Budget *TokenBudgetConfig

	// LLM backs autonomous compression, llm_semantic merge, and collapse
	// summarization (spec §4.E, §4.G, §4.H, §4.J). Nil disables those paths.
	LLM LLMClient
}

func (o Options) resolve() (tokencount.Counter, *Registry, error) {
	encoding := o.Encoding
	if encoding == "" {
		encoding = "cl100k_base"
	}
	counter, err := tokencount.NewTiktokenCounter(encoding)
	if err != nil {
		return nil, nil, fmt.Errorf("tract: open: %w", err)
	}
	registry := o.Registry
	if registry == nil {
		registry = model.NewRegistry()
	}
	return counter, registry, nil
}

// Handle bundles a Tract with the store connection it owns, so Close can
// release it (spec §5 "scoped acquisition... must release it on every exit
// path").
type Handle struct {
	*Tract
	st store.Store
}

// Close releases the underlying store connection.
func (h *Handle) Close() error { return h.st.Close() }

// Open opens (or creates) a single tract backed by the database at path --
// or an ephemeral in-memory store if path is ":memory:" or empty (spec §6
// "Tract.open(path | in-memory, ...)"). The returned value's Close method
// must be called to release the connection.
func Open(ctx context.Context, path string, opts Options) (*Handle, error) {
	counter, registry, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	var st store.Store
	if path == "" || path == ":memory:" {
		st, err = sqlite.OpenMemory(ctx)
	} else {
		st, err = sqlite.Open(ctx, path)
	}
	if err != nil {
		return nil, fmt.Errorf("tract: open %q: %w", path, err)
	}

	tractID := opts.TractID
	if tractID == "" {
		tractID = uuid.NewString()
	}

	t := session.FromComponents(session.Components{
		Store:    st,
		TractID:  tractID,
		Registry: registry,
		Counter:  counter,
		Budget:   opts.Budget,
		LLM:      opts.LLM,
	})
	return &Handle{Tract: t, st: st}, nil
}

// SessionHandle bundles a Session with the store connection it owns.
type SessionHandle struct {
	*Session
	st store.Store
}

// Close releases the underlying store connection.
func (h *SessionHandle) Close() error { return h.st.Close() }

// OpenSession opens a multi-tract session (spec §4.J) backed by the
// database at path, or an ephemeral in-memory store if path is ":memory:"
// or empty. The returned value's Close method must be called to release
// the connection.
func OpenSession(ctx context.Context, path string, opts Options) (*SessionHandle, error) {
	counter, registry, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	var st store.Store
	if path == "" || path == ":memory:" {
		st, err = sqlite.OpenMemory(ctx)
	} else {
		st, err = sqlite.Open(ctx, path)
	}
	if err != nil {
		return nil, fmt.Errorf("tract: open session %q: %w", path, err)
	}

	s, err := session.New(ctx, session.Config{
		Store:    st,
		Registry: registry,
		Counter:  counter,
		Budget:   opts.Budget,
		LLM:      opts.LLM,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &SessionHandle{Session: s, st: st}, nil
}

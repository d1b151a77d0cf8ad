package model

import (
	"encoding/json"
	"fmt"
)

// Role is the message role a compiled commit resolves to.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentType is the stable string tag of a payload variant (spec §3).
type ContentType string

const (
	TypeInstruction ContentType = "instruction"
	TypeDialogue    ContentType = "dialogue"
	TypeToolIO      ContentType = "tool_io"
	TypeReasoning   ContentType = "reasoning"
	TypeArtifact    ContentType = "artifact"
	TypeOutput      ContentType = "output"
	TypeFreeform    ContentType = "freeform"
	TypeSession     ContentType = "session"
)

// builtinRoleDefaults gives the role a commit gets when it omits one.
var builtinRoleDefaults = map[ContentType]Role{
	TypeInstruction: RoleSystem,
	TypeToolIO:      RoleSystem,
	TypeReasoning:   RoleSystem,
	TypeArtifact:    RoleSystem,
	TypeOutput:      RoleSystem,
	TypeFreeform:    RoleSystem,
	TypeSession:     RoleSystem,
	// TypeDialogue has a per-payload role; see DefaultRole.
}

// SessionKind is the `session_type` field of a Session payload.
type SessionKind string

const (
	SessionStart SessionKind = "start"
	SessionEnd   SessionKind = "end"
)

// Payload is the tagged-variant interface every content payload implements.
// Structural checks are not part of the interface: the package-level
// Validate checks each variant and looks custom tags up in the registry.
type Payload interface {
	Tag() ContentType
	// PrimaryText returns the text used to synthesize a commit message and,
	// for payloads without an explicit role, compiled as-is.
	PrimaryText() string
}

// Instruction is a system prompt / instruction payload.
type Instruction struct {
	Text string `json:"text"`
}

func (Instruction) Tag() ContentType      { return TypeInstruction }
func (p Instruction) PrimaryText() string { return p.Text }

// Dialogue is a single user/assistant/system turn.
type Dialogue struct {
	Text string `json:"text"`
	Role Role   `json:"role"`
}

func (Dialogue) Tag() ContentType      { return TypeDialogue }
func (p Dialogue) PrimaryText() string { return p.Text }

// ToolIO records a tool invocation and its result.
type ToolIO struct {
	ToolName string                 `json:"tool_name"`
	Call     map[string]interface{} `json:"call"`
	Result   map[string]interface{} `json:"result"`
}

func (ToolIO) Tag() ContentType { return TypeToolIO }
func (p ToolIO) PrimaryText() string {
	return fmt.Sprintf("%s(%v) -> %v", p.ToolName, p.Call, p.Result)
}

// Reasoning carries intermediate chain-of-thought the agent produced.
type Reasoning struct {
	Text string `json:"text"`
}

func (Reasoning) Tag() ContentType      { return TypeReasoning }
func (p Reasoning) PrimaryText() string { return p.Text }

// Artifact is a named, typed output blob (code, document, diagram, ...).
type Artifact struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	MimeType string `json:"mime_type"`
}

func (Artifact) Tag() ContentType      { return TypeArtifact }
func (p Artifact) PrimaryText() string { return p.Title }

// Output is a terminal agent output (a final answer, a generated result).
type Output struct {
	Text string `json:"text"`
}

func (Output) Tag() ContentType      { return TypeOutput }
func (p Output) PrimaryText() string { return p.Text }

// Freeform is a free-form key/value payload for content types the built-in
// variants don't cover but that don't warrant a custom registry entry.
type Freeform struct {
	Fields map[string]interface{} `json:"fields"`
}

func (Freeform) Tag() ContentType { return TypeFreeform }
func (p Freeform) PrimaryText() string {
	return fmt.Sprintf("%v", p.Fields)
}

// Session marks a multi-tract session boundary commit.
type Session struct {
	SessionType SessionKind `json:"session_type"`
	Summary     string      `json:"summary"`
	Decisions   []string    `json:"decisions,omitempty"`
	NextSteps   []string    `json:"next_steps,omitempty"`
}

func (Session) Tag() ContentType      { return TypeSession }
func (p Session) PrimaryText() string { return p.Summary }

// CustomPayload wraps a payload produced by a per-tract content-type
// registry entry (spec §4.A "custom tags").
type CustomPayload struct {
	CustomTag ContentType            `json:"-"`
	Fields    map[string]interface{} `json:"fields"`
}

func (p CustomPayload) Tag() ContentType { return p.CustomTag }
func (p CustomPayload) PrimaryText() string {
	return fmt.Sprintf("%v", p.Fields)
}

// MarshalJSON renders a CustomPayload as its flat field map (the CustomTag
// is carried out-of-band by the commit's content_type column, not inside
// the blob), so content_hash is computed over exactly what's stored.
func (p CustomPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Fields)
}

// UnmarshalJSON restores the flat field map; CustomTag must be set by the
// caller afterward since it isn't part of the blob bytes.
func (p *CustomPayload) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &p.Fields)
}

// Registry lists the custom content types a tract accepts beyond the
// built-in variants, and how to validate/default-role them.
type Registry struct {
	Entries map[ContentType]RegistryEntry
}

// RegistryEntry describes one custom content type.
type RegistryEntry struct {
	DefaultRole    Role
	RequiredFields []string
}

// NewRegistry returns an empty custom-type registry.
func NewRegistry() *Registry {
	return &Registry{Entries: make(map[ContentType]RegistryEntry)}
}

// Register adds a custom content type.
func (r *Registry) Register(tag ContentType, entry RegistryEntry) {
	r.Entries[tag] = entry
}

// Validate checks a payload's structural invariants. Built-in variants are
// validated directly; a CustomPayload is validated against the registry,
// which must be non-nil and must contain the tag or validation fails with
// ErrUnknownContentType.
func Validate(p Payload, registry *Registry) error {
	switch v := p.(type) {
	case Instruction:
		if v.Text == "" {
			return fmt.Errorf("instruction: %w: text must not be empty", ErrValidation)
		}
	case Dialogue:
		if v.Text == "" {
			return fmt.Errorf("dialogue: %w: text must not be empty", ErrValidation)
		}
		switch v.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return fmt.Errorf("dialogue: %w: invalid role %q", ErrValidation, v.Role)
		}
	case ToolIO:
		if v.ToolName == "" {
			return fmt.Errorf("tool_io: %w: tool_name must not be empty", ErrValidation)
		}
	case Reasoning:
		if v.Text == "" {
			return fmt.Errorf("reasoning: %w: text must not be empty", ErrValidation)
		}
	case Artifact:
		if v.Title == "" {
			return fmt.Errorf("artifact: %w: title must not be empty", ErrValidation)
		}
	case Output:
		if v.Text == "" {
			return fmt.Errorf("output: %w: text must not be empty", ErrValidation)
		}
	case Freeform:
		if len(v.Fields) == 0 {
			return fmt.Errorf("freeform: %w: fields must not be empty", ErrValidation)
		}
	case Session:
		if v.SessionType != SessionStart && v.SessionType != SessionEnd {
			return fmt.Errorf("session: %w: invalid session_type %q", ErrValidation, v.SessionType)
		}
	case CustomPayload:
		if registry == nil {
			return fmt.Errorf("%w: %s", ErrUnknownContentType, v.CustomTag)
		}
		entry, ok := registry.Entries[v.CustomTag]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownContentType, v.CustomTag)
		}
		for _, field := range entry.RequiredFields {
			if _, ok := v.Fields[field]; !ok {
				return fmt.Errorf("custom %s: %w: missing field %q", v.CustomTag, ErrValidation, field)
			}
		}
	default:
		return fmt.Errorf("%w: unrecognized payload type %T", ErrUnknownContentType, p)
	}
	return nil
}

// DefaultRole returns the role a commit gets when it doesn't specify one.
func DefaultRole(p Payload, registry *Registry) Role {
	if d, ok := p.(Dialogue); ok {
		if d.Role != "" {
			return d.Role
		}
		return RoleUser
	}
	if c, ok := p.(CustomPayload); ok && registry != nil {
		if entry, ok := registry.Entries[c.CustomTag]; ok && entry.DefaultRole != "" {
			return entry.DefaultRole
		}
	}
	if role, ok := builtinRoleDefaults[p.Tag()]; ok {
		return role
	}
	return RoleSystem
}

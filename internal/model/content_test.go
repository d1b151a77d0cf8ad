package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tractvcs/tract/internal/model"
)

func TestValidateBuiltinPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload model.Payload
		wantErr bool
	}{
		{"instruction ok", model.Instruction{Text: "hi"}, false},
		{"instruction empty", model.Instruction{}, true},
		{"dialogue ok", model.Dialogue{Text: "hi", Role: model.RoleUser}, false},
		{"dialogue bad role", model.Dialogue{Text: "hi", Role: "narrator"}, true},
		{"dialogue empty text", model.Dialogue{Role: model.RoleUser}, true},
		{"tool_io ok", model.ToolIO{ToolName: "grep"}, false},
		{"tool_io empty name", model.ToolIO{}, true},
		{"reasoning ok", model.Reasoning{Text: "because"}, false},
		{"artifact ok", model.Artifact{Title: "t", Body: "b"}, false},
		{"artifact empty title", model.Artifact{Body: "b"}, true},
		{"output ok", model.Output{Text: "done"}, false},
		{"freeform ok", model.Freeform{Fields: map[string]interface{}{"k": "v"}}, false},
		{"freeform empty", model.Freeform{}, true},
		{"session ok", model.Session{SessionType: model.SessionEnd, Summary: "s"}, false},
		{"session bad kind", model.Session{SessionType: "middle"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := model.Validate(tt.payload, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCustomPayloadRequiresRegistry(t *testing.T) {
	custom := model.CustomPayload{CustomTag: "plan_step", Fields: map[string]interface{}{"step": "research"}}

	err := model.Validate(custom, nil)
	assert.ErrorIs(t, err, model.ErrUnknownContentType)

	registry := model.NewRegistry()
	err = model.Validate(custom, registry)
	assert.ErrorIs(t, err, model.ErrUnknownContentType)

	registry.Register("plan_step", model.RegistryEntry{RequiredFields: []string{"step", "owner"}})
	err = model.Validate(custom, registry)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation, "missing required field 'owner' must fail validation")

	custom.Fields["owner"] = "agent-1"
	assert.NoError(t, model.Validate(custom, registry))
}

func TestDefaultRole(t *testing.T) {
	assert.Equal(t, model.RoleUser, model.DefaultRole(model.Dialogue{Text: "hi"}, nil))
	assert.Equal(t, model.RoleAssistant, model.DefaultRole(model.Dialogue{Text: "hi", Role: model.RoleAssistant}, nil))
	assert.Equal(t, model.RoleSystem, model.DefaultRole(model.Instruction{Text: "hi"}, nil))

	registry := model.NewRegistry()
	registry.Register("plan_step", model.RegistryEntry{DefaultRole: model.RoleAssistant})
	custom := model.CustomPayload{CustomTag: "plan_step"}
	assert.Equal(t, model.RoleAssistant, model.DefaultRole(custom, registry))
	assert.Equal(t, model.RoleSystem, model.DefaultRole(custom, nil), "no registry falls back to system")
}

func TestCustomPayloadJSONRoundTrip(t *testing.T) {
	p := model.CustomPayload{CustomTag: "plan_step", Fields: map[string]interface{}{"step": "research"}}
	data, err := p.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":"research"}`, string(data))

	var out model.CustomPayload
	require.NoError(t, out.UnmarshalJSON(data))
	assert.Equal(t, "research", out.Fields["step"])
}

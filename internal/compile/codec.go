package compile

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tractvcs/tract/internal/model"
)

func isNotFound(err error) bool { return errors.Is(err, model.ErrNotFound) }

// decodeTypedPayload round-trips a stored blob back into its typed
// model.Payload variant. Custom tags look themselves up in the per-tract
// registry first; anything else must be a built-in tag.
func decodeTypedPayload(contentType model.ContentType, data []byte, registry *model.Registry) (model.Payload, error) {
	switch contentType {
	case model.TypeInstruction:
		var p model.Instruction
		return p, json.Unmarshal(data, &p)
	case model.TypeDialogue:
		var p model.Dialogue
		return p, json.Unmarshal(data, &p)
	case model.TypeToolIO:
		var p model.ToolIO
		return p, json.Unmarshal(data, &p)
	case model.TypeReasoning:
		var p model.Reasoning
		return p, json.Unmarshal(data, &p)
	case model.TypeArtifact:
		var p model.Artifact
		return p, json.Unmarshal(data, &p)
	case model.TypeOutput:
		var p model.Output
		return p, json.Unmarshal(data, &p)
	case model.TypeFreeform:
		var p model.Freeform
		return p, json.Unmarshal(data, &p)
	case model.TypeSession:
		var p model.Session
		return p, json.Unmarshal(data, &p)
	default:
		if registry == nil {
			return nil, fmt.Errorf("%w: %s", model.ErrUnknownContentType, contentType)
		}
		if _, ok := registry.Entries[contentType]; !ok {
			return nil, fmt.Errorf("%w: %s", model.ErrUnknownContentType, contentType)
		}
		p := model.CustomPayload{CustomTag: contentType}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
}

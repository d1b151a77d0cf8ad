package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/tractvcs/tract/internal/model"
)

// hashHex runs SHA-256 over canonical bytes and renders lowercase hex. The
// design only requires a collision-resistant, deterministic hash (spec
// §4.B); SHA-256 is the concrete choice.
func hashHex(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// ContentHash computes the content hash of a payload: the hash of the
// canonical-JSON serialization of the payload (spec §3-inv-2).
func ContentHash(p model.Payload) (string, error) {
	canonical, err := Canonicalize(p)
	if err != nil {
		return "", err
	}
	return hashHex(canonical), nil
}

// commitHashFields is the ordered tuple commit_hash is computed over (spec
// §3-inv-1): tract_id, content_hash, content_type, parent_hash, operation,
// edit_target, message, metadata, generation_config, created_at. Changing
// generation_config changes commit_hash without changing content_hash;
// created_at is rendered with a fixed, canonical (RFC3339Nano, UTC) layout
// so the same instant always hashes the same way.
type commitHashFields struct {
	TractID          string                  `json:"tract_id"`
	ContentHash      string                  `json:"content_hash"`
	ContentType      model.ContentType       `json:"content_type"`
	ParentHash       string                  `json:"parent_hash"`
	Operation        model.Operation         `json:"operation"`
	EditTarget       string                  `json:"edit_target"`
	Message          string                  `json:"message"`
	Metadata         map[string]string       `json:"metadata"`
	GenerationConfig *model.GenerationConfig `json:"generation_config,omitempty"`
	CreatedAt        string                  `json:"created_at"`
}

// CommitHash computes the deterministic commit hash for the given fields.
func CommitHash(
	tractID, contentHash string,
	contentType model.ContentType,
	parentHash string,
	operation model.Operation,
	editTarget, message string,
	metadata map[string]string,
	genConfig *model.GenerationConfig,
	createdAt time.Time,
) (string, error) {
	fields := commitHashFields{
		TractID:          tractID,
		ContentHash:      contentHash,
		ContentType:      contentType,
		ParentHash:       parentHash,
		Operation:        operation,
		EditTarget:       editTarget,
		Message:          message,
		Metadata:         metadata,
		GenerationConfig: genConfig,
		CreatedAt:        createdAt.UTC().Format(time.RFC3339Nano),
	}
	canonical, err := Canonicalize(fields)
	if err != nil {
		return "", err
	}
	return hashHex(canonical), nil
}

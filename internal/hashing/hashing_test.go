package hashing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tractvcs/tract/internal/hashing"
	"github.com/tractvcs/tract/internal/model"
)

func TestCanonicalizeSortsKeysRegardlessOfInputOrder(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": 3}
	b := map[string]interface{}{"c": 3, "a": 2, "b": 1}

	ca, err := hashing.Canonicalize(a)
	require.NoError(t, err)
	cb, err := hashing.Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, string(ca), string(cb))
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(ca))
}

func TestCanonicalizeNestedStructures(t *testing.T) {
	v := map[string]interface{}{
		"z": []interface{}{
			map[string]interface{}{"y": 1, "x": 2},
			"plain",
		},
	}
	out, err := hashing.Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, `{"z":[{"x":2,"y":1},"plain"]}`, string(out))
}

func TestContentHashIsDeterministicHexSHA256(t *testing.T) {
	p := model.Instruction{Text: "be concise"}

	h1, err := hashing.ContentHash(p)
	require.NoError(t, err)
	h2, err := hashing.ContentHash(p)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64) // hex-encoded sha256
}

func TestContentHashDiffersOnPayloadChange(t *testing.T) {
	h1, err := hashing.ContentHash(model.Instruction{Text: "a"})
	require.NoError(t, err)
	h2, err := hashing.ContentHash(model.Instruction{Text: "b"})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestCommitHashChangesWithGenerationConfigButNotContentHash(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	contentHash, err := hashing.ContentHash(model.Dialogue{Text: "hi", Role: model.RoleUser})
	require.NoError(t, err)

	base, err := hashing.CommitHash("tract-1", contentHash, model.TypeDialogue, "", model.OpAppend, "", "msg", nil, nil, now)
	require.NoError(t, err)

	modelName := "claude-sonnet-4-5"
	withConfig, err := hashing.CommitHash("tract-1", contentHash, model.TypeDialogue, "", model.OpAppend, "", "msg", nil,
		&model.GenerationConfig{Model: &modelName}, now)
	require.NoError(t, err)

	assert.NotEqual(t, base, withConfig, "generation_config must participate in commit_hash")
}

func TestCommitHashStableAcrossEquivalentCreatedAt(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.In(time.FixedZone("UTC+2", 2*60*60))

	h1, err := hashing.CommitHash("tract-1", "c", model.TypeInstruction, "", model.OpAppend, "", "m", nil, nil, t1)
	require.NoError(t, err)
	h2, err := hashing.CommitHash("tract-1", "c", model.TypeInstruction, "", model.OpAppend, "", "m", nil, nil, t2)
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "same instant in different locations must hash identically")
}

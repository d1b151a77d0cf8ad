package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tractvcs/tract/internal/model"
)

func TestWrapNilCauseReturnsNil(t *testing.T) {
	assert.NoError(t, model.Wrap("op", "ident", nil))
}

func TestWrapClassifiesSentinelKind(t *testing.T) {
	err := model.Wrap("create_commit", "tract-1", model.ErrBudgetExceeded)

	var te *model.TraceError
	require_ := assert.New(t)
	require_.ErrorAs(err, &te)
	require_.Equal(model.KindBudgetExceeded, te.Kind)
	require_.Equal("create_commit", te.Op)
	require_.Equal("tract-1", te.Ident)
	require_.True(errors.Is(err, model.ErrBudgetExceeded))
}

func TestWrapUnknownCauseIsKindOther(t *testing.T) {
	cause := errors.New("boom")
	err := model.Wrap("op", "x", cause)

	var te *model.TraceError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, model.KindOther, te.Kind)
	assert.True(t, errors.Is(err, cause))
}

func TestMergeConflictErrorUnwrapsToSentinel(t *testing.T) {
	err := &model.MergeConflictError{Items: []model.MergeConflictItem{
		{Kind: "edit_target", LeftHash: "a", RightHash: "b"},
	}}
	assert.True(t, errors.Is(err, model.ErrMergeConflict))
	assert.Contains(t, err.Error(), "1 item")
}

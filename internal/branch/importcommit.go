package branch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tractvcs/tract/internal/engine"
	"github.com/tractvcs/tract/internal/model"
)

// ImportCommit implements spec §4.G import_commit(source_hash, *,
// into_branch): copies a foreign commit onto into_branch as a new commit
// (content unchanged, chain position and hash necessarily new), recording
// an import operation event mapping source -> result. Replaces the earlier
// "cherry-pick" concept.
func (m *Manager) ImportCommit(ctx context.Context, sourceHash, intoBranch string) (*model.Commit, error) {
	source, err := m.st.Commits().Get(ctx, sourceHash)
	if err != nil {
		return nil, model.Wrap("import_commit", sourceHash, err)
	}
	payload, err := m.decodeCommitPayload(ctx, source)
	if err != nil {
		return nil, model.Wrap("import_commit", sourceHash, err)
	}

	priorBranch, priorDetached, priorHash := m.engine.Branch(), m.engine.Detached(), ""
	if priorDetached {
		priorHash, err = m.engine.CurrentHead(ctx)
		if err != nil {
			return nil, model.Wrap("import_commit", sourceHash, err)
		}
	}
	m.engine.CheckoutBranch(intoBranch)
	defer func() {
		if priorDetached {
			m.engine.CheckoutDetached(priorHash)
		} else {
			m.engine.CheckoutBranch(priorBranch)
		}
	}()

	in := engine.CreateInput{
		Payload:          payload,
		Operation:        model.OpAppend,
		ReplyTo:          source.ReplyTo,
		Metadata:         source.Metadata,
		GenerationConfig: source.GenerationConfig.Clone(),
	}
	result, err := m.engine.CreateCommit(ctx, in)
	if err != nil {
		return nil, model.Wrap("import_commit", sourceHash, err)
	}

	event := &model.OperationEvent{
		EventID:   uuid.NewString(),
		TractID:   m.tractID,
		Kind:      model.EventImport,
		CreatedAt: time.Now().UTC(),
		Params:    map[string]interface{}{"into_branch": intoBranch},
	}
	if err := m.st.Events().SaveEvent(ctx, event); err != nil {
		return nil, model.Wrap("import_commit", sourceHash, err)
	}
	if err := m.st.Events().AddCommit(ctx, event.EventID, model.RoleSource, sourceHash); err != nil {
		return nil, model.Wrap("import_commit", sourceHash, err)
	}
	if err := m.st.Events().AddCommit(ctx, event.EventID, model.RoleResult, result.CommitHash); err != nil {
		return nil, model.Wrap("import_commit", sourceHash, err)
	}

	return result, nil
}

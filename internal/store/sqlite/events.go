package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tractvcs/tract/internal/model"
)

type eventRepo Store

func (r *eventRepo) SaveEvent(ctx context.Context, e *model.OperationEvent) error {
	paramsJSON, err := json.Marshal(e.Params)
	if err != nil {
		return fmt.Errorf("marshal event params: %w", err)
	}
	_, err = r.q(ctx).ExecContext(ctx, `
		INSERT INTO operation_events (event_id, tract_id, kind, params_json, created_at) VALUES (?, ?, ?, ?, ?)
	`, e.EventID, e.TractID, string(e.Kind), string(paramsJSON), e.CreatedAt.UTC().Format(time.RFC3339Nano))
	return wrapDBErr("save operation event", err)
}

func (r *eventRepo) AddCommit(ctx context.Context, eventID string, role model.OperationEventCommitRole, commitHash string) error {
	_, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO operation_commits (event_id, role, commit_hash) VALUES (?, ?, ?)
		ON CONFLICT (event_id, role, commit_hash) DO NOTHING
	`, eventID, string(role), commitHash)
	return wrapDBErr("add event commit", err)
}

func (r *eventRepo) GetEvent(ctx context.Context, eventID string) (*model.OperationEvent, error) {
	var (
		e                      model.OperationEvent
		kind, paramsJSON, createdAtStr string
	)
	err := r.q(ctx).QueryRowContext(ctx, `
		SELECT event_id, tract_id, kind, params_json, created_at FROM operation_events WHERE event_id = ?
	`, eventID).Scan(&e.EventID, &e.TractID, &kind, &paramsJSON, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapDBErr("get event "+eventID, err)
	}
	if err != nil {
		return nil, wrapDBErr("get event "+eventID, err)
	}
	e.Kind = model.EventKind(kind)
	if err := json.Unmarshal([]byte(paramsJSON), &e.Params); err != nil {
		return nil, fmt.Errorf("unmarshal event params: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	e.CreatedAt = createdAt
	return &e, nil
}

func (r *eventRepo) GetCommitsForEvent(ctx context.Context, eventID string) ([]model.OperationEventCommit, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `
		SELECT event_id, role, commit_hash FROM operation_commits WHERE event_id = ?
	`, eventID)
	if err != nil {
		return nil, wrapDBErr("get event commits", err)
	}
	defer rows.Close()

	var out []model.OperationEventCommit
	for rows.Next() {
		var oc model.OperationEventCommit
		var role string
		if err := rows.Scan(&oc.EventID, &role, &oc.CommitHash); err != nil {
			return nil, wrapDBErr("scan event commit", err)
		}
		oc.Role = model.OperationEventCommitRole(role)
		out = append(out, oc)
	}
	return out, wrapDBErr("iterate event commits", rows.Err())
}

func (r *eventRepo) ListEvents(ctx context.Context, tractID string, kind model.EventKind) ([]*model.OperationEvent, error) {
	query := `SELECT event_id, tract_id, kind, params_json, created_at FROM operation_events WHERE tract_id = ?`
	args := []interface{}{tractID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErr("list events", err)
	}
	defer rows.Close()

	var out []*model.OperationEvent
	for rows.Next() {
		var e model.OperationEvent
		var k, paramsJSON, createdAtStr string
		if err := rows.Scan(&e.EventID, &e.TractID, &k, &paramsJSON, &createdAtStr); err != nil {
			return nil, wrapDBErr("scan event", err)
		}
		e.Kind = model.EventKind(k)
		if err := json.Unmarshal([]byte(paramsJSON), &e.Params); err != nil {
			return nil, fmt.Errorf("unmarshal event params: %w", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		e.CreatedAt = createdAt
		out = append(out, &e)
	}
	return out, wrapDBErr("iterate events", rows.Err())
}

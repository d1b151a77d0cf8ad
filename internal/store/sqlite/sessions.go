package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tractvcs/tract/internal/model"
)

type sessionRepo Store

func (r *sessionRepo) CreateSession(ctx context.Context, sessionID string, createdAt time.Time) error {
	_, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at) VALUES (?, ?)
	`, sessionID, createdAt.UTC().Format(time.RFC3339Nano))
	return wrapDBErr("create session", err)
}

func (r *sessionRepo) CreateTract(ctx context.Context, t model.TractMeta) error {
	_, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO tracts (tract_id, session_id, display_name, created_at) VALUES (?, ?, ?, ?)
	`, t.TractID, t.SessionID, t.DisplayName, t.CreatedAt.UTC().Format(time.RFC3339Nano))
	return wrapDBErr("create tract", err)
}

func (r *sessionRepo) ListTracts(ctx context.Context, sessionID string) ([]model.TractMeta, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `
		SELECT tract_id, session_id, display_name, created_at FROM tracts WHERE session_id = ? ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, wrapDBErr("list tracts", err)
	}
	defer rows.Close()

	var out []model.TractMeta
	for rows.Next() {
		var t model.TractMeta
		var createdAtStr string
		if err := rows.Scan(&t.TractID, &t.SessionID, &t.DisplayName, &createdAtStr); err != nil {
			return nil, wrapDBErr("scan tract", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		t.CreatedAt = createdAt
		out = append(out, t)
	}
	return out, wrapDBErr("iterate tracts", rows.Err())
}

func (r *sessionRepo) RecordSpawn(ctx context.Context, e model.SpawnEdge) error {
	_, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO spawn_edges (child_tract_id, parent_tract_id, spawn_point, purpose, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ChildTractID, e.ParentTractID, e.SpawnPoint, e.Purpose, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	return wrapDBErr("record spawn edge", err)
}

func (r *sessionRepo) GetSpawnEdge(ctx context.Context, childTractID string) (*model.SpawnEdge, error) {
	var (
		e                 model.SpawnEdge
		createdAtStr      string
	)
	err := r.q(ctx).QueryRowContext(ctx, `
		SELECT child_tract_id, parent_tract_id, spawn_point, purpose, created_at
		FROM spawn_edges WHERE child_tract_id = ?
	`, childTractID).Scan(&e.ChildTractID, &e.ParentTractID, &e.SpawnPoint, &e.Purpose, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapDBErr("get spawn edge "+childTractID, err)
	}
	if err != nil {
		return nil, wrapDBErr("get spawn edge "+childTractID, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	e.CreatedAt = createdAt
	return &e, nil
}

func (r *sessionRepo) MostRecentTract(ctx context.Context, sessionID string) (string, error) {
	var tractID string
	err := r.q(ctx).QueryRowContext(ctx, `
		SELECT c.tract_id FROM commits c
		JOIN tracts t ON t.tract_id = c.tract_id
		WHERE t.session_id = ?
		ORDER BY c.created_at DESC LIMIT 1
	`, sessionID).Scan(&tractID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", wrapDBErr("most recent tract", err)
	}
	if err != nil {
		return "", wrapDBErr("most recent tract", err)
	}
	return tractID, nil
}

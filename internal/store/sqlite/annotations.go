package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tractvcs/tract/internal/model"
)

type annotationRepo Store

func (r *annotationRepo) Insert(ctx context.Context, a *model.Annotation) error {
	res, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO annotations (target_hash, priority, reason, created_at) VALUES (?, ?, ?, ?)
	`, a.TargetHash, string(a.Priority), a.Reason, a.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return wrapDBErr("insert annotation", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		a.ID = id
	}
	return nil
}

func scanAnnotation(row interface{ Scan(dest ...interface{}) error }) (*model.Annotation, error) {
	var a model.Annotation
	var priority, createdAtStr string
	if err := row.Scan(&a.ID, &a.TargetHash, &priority, &a.Reason, &createdAtStr); err != nil {
		return nil, err
	}
	a.Priority = model.Priority(priority)
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	a.CreatedAt = createdAt
	return &a, nil
}

// GetLatest returns the latest annotation by created_at (tie-broken by id,
// which is monotonically increasing with insertion order) for one target,
// or (nil, nil) if none exists.
func (r *annotationRepo) GetLatest(ctx context.Context, targetHash string) (*model.Annotation, error) {
	row := r.q(ctx).QueryRowContext(ctx, `
		SELECT id, target_hash, priority, reason, created_at FROM annotations
		WHERE target_hash = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, targetHash)
	a, err := scanAnnotation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBErr("get latest annotation", err)
	}
	return a, nil
}

// BatchGetLatest returns the latest annotation per target in one query (a
// correlated subquery ordering by created_at, then id, as GetLatest does),
// avoiding N+1 (spec §4.C), grounded on the teacher's batch_get_latest contract.
func (r *annotationRepo) BatchGetLatest(ctx context.Context, targetHashes []string) (map[string]*model.Annotation, error) {
	out := make(map[string]*model.Annotation, len(targetHashes))
	if len(targetHashes) == 0 {
		return out, nil
	}
	placeholders := strings.Repeat("?,", len(targetHashes))
	placeholders = strings.TrimSuffix(placeholders, ",")
	args := make([]interface{}, len(targetHashes))
	for i, h := range targetHashes {
		args[i] = h
	}

	query := fmt.Sprintf(`
		SELECT a.id, a.target_hash, a.priority, a.reason, a.created_at
		FROM annotations a
		WHERE a.target_hash IN (%s)
		AND a.id = (
			SELECT b.id FROM annotations b
			WHERE b.target_hash = a.target_hash
			ORDER BY b.created_at DESC, b.id DESC
			LIMIT 1
		)
	`, placeholders)

	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErr("batch get latest annotations", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, wrapDBErr("scan annotation", err)
		}
		out[a.TargetHash] = a
	}
	return out, wrapDBErr("iterate annotations", rows.Err())
}

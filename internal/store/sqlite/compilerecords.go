package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/tractvcs/tract/internal/model"
)

type compileRecordRepo Store

func (r *compileRecordRepo) Save(ctx context.Context, rec *model.CompileRecord) error {
	_, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO compile_records (record_id, tract_id, head_hash, token_count, commit_count, token_source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.RecordID, rec.TractID, rec.HeadHash, rec.TokenCount, rec.CommitCount, rec.TokenSource, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return wrapDBErr("save compile record", err)
	}
	for i, commitHash := range rec.Effective {
		if _, err := r.q(ctx).ExecContext(ctx, `
			INSERT INTO compile_effective (record_id, position, commit_hash) VALUES (?, ?, ?)
		`, rec.RecordID, i, commitHash); err != nil {
			return wrapDBErr("save compile_effective", err)
		}
	}
	return nil
}

func (r *compileRecordRepo) List(ctx context.Context, tractID string, limit int) ([]*model.CompileRecord, error) {
	query := `
		SELECT record_id, tract_id, head_hash, token_count, commit_count, token_source, created_at
		FROM compile_records WHERE tract_id = ? ORDER BY created_at DESC
	`
	args := []interface{}{tractID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErr("list compile records", err)
	}
	defer rows.Close()

	var out []*model.CompileRecord
	for rows.Next() {
		var rec model.CompileRecord
		var createdAtStr string
		if err := rows.Scan(&rec.RecordID, &rec.TractID, &rec.HeadHash, &rec.TokenCount, &rec.CommitCount, &rec.TokenSource, &createdAtStr); err != nil {
			return nil, wrapDBErr("scan compile record", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		rec.CreatedAt = createdAt
		out = append(out, &rec)
	}
	return out, wrapDBErr("iterate compile records", rows.Err())
}

func (r *compileRecordRepo) GetEffectiveCommits(ctx context.Context, recordID string) ([]string, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `
		SELECT commit_hash FROM compile_effective WHERE record_id = ? ORDER BY position ASC
	`, recordID)
	if err != nil {
		return nil, wrapDBErr("get effective commits", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, wrapDBErr("scan effective commit", err)
		}
		out = append(out, h)
	}
	return out, wrapDBErr("iterate effective commits", rows.Err())
}

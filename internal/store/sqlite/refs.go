package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tractvcs/tract/internal/model"
)

type refRepo Store

// Set is idempotent per writer (spec §3 Ref): re-pointing a ref to the
// same commit is a no-op write, and setting HEAD concurrently from two
// tracts is last-writer-wins under the store's row lock (spec §5).
func (r *refRepo) Set(ctx context.Context, refName, tractID, commitHash string) error {
	_, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO refs (ref_name, tract_id, commit_hash) VALUES (?, ?, ?)
		ON CONFLICT (ref_name) DO UPDATE SET commit_hash = excluded.commit_hash
	`, refName, tractID, commitHash)
	return wrapDBErr("set ref "+refName, err)
}

func (r *refRepo) Get(ctx context.Context, refName string) (string, error) {
	var commitHash string
	err := r.q(ctx).QueryRowContext(ctx, `SELECT commit_hash FROM refs WHERE ref_name = ?`, refName).Scan(&commitHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", wrapDBErr("get ref "+refName, err)
	}
	return commitHash, wrapDBErr("get ref "+refName, err)
}

func (r *refRepo) List(ctx context.Context, prefix string) ([]model.Ref, error) {
	query := `SELECT ref_name, tract_id, commit_hash FROM refs`
	var args []interface{}
	if prefix != "" {
		query += ` WHERE ref_name LIKE ?`
		args = append(args, prefix+"%")
	}
	query += ` ORDER BY ref_name ASC`

	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErr("list refs", err)
	}
	defer rows.Close()

	var out []model.Ref
	for rows.Next() {
		var ref model.Ref
		if err := rows.Scan(&ref.RefName, &ref.TractID, &ref.CommitHash); err != nil {
			return nil, wrapDBErr("scan ref", err)
		}
		out = append(out, ref)
	}
	return out, wrapDBErr("iterate refs", rows.Err())
}

func (r *refRepo) Delete(ctx context.Context, refName string) error {
	_, err := r.q(ctx).ExecContext(ctx, `DELETE FROM refs WHERE ref_name = ?`, refName)
	return wrapDBErr("delete ref "+refName, err)
}

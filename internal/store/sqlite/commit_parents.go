package sqlite

import (
	"context"
	"database/sql"
)

// AddCommitParent records an additional (non-first) parent of a merge
// commit in the commit_parents relation (spec §3: "a separate commit_parents
// relation records additional parents for merges").
func (s *Store) AddCommitParent(ctx context.Context, commitHash, parentHash string) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO commit_parents (commit_hash, parent_hash) VALUES (?, ?)
		ON CONFLICT (commit_hash, parent_hash) DO NOTHING
	`, commitHash, parentHash)
	return wrapDBErr("add commit parent", err)
}

// ParentsOf returns every parent of a commit: its first-parent (from
// commits.parent_hash, if any) followed by any additional merge parents
// from commit_parents, in that order.
func (s *Store) ParentsOf(ctx context.Context, commitHash string) ([]string, error) {
	var parents []string

	var first sql.NullString
	row := s.q(ctx).QueryRowContext(ctx, `SELECT parent_hash FROM commits WHERE commit_hash = ?`, commitHash)
	if err := row.Scan(&first); err != nil {
		return nil, wrapDBErr("get first parent", err)
	}
	if first.Valid && first.String != "" {
		parents = append(parents, first.String)
	}

	rows, err := s.q(ctx).QueryContext(ctx, `SELECT parent_hash FROM commit_parents WHERE commit_hash = ?`, commitHash)
	if err != nil {
		return nil, wrapDBErr("list merge parents", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ph string
		if err := rows.Scan(&ph); err != nil {
			return nil, wrapDBErr("scan merge parent", err)
		}
		parents = append(parents, ph)
	}
	return parents, wrapDBErr("iterate merge parents", rows.Err())
}

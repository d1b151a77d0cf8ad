package sqlite

import (
	"context"
	"database/sql"
	"errors"
)

type blobRepo Store

func (r *blobRepo) SaveIfAbsent(ctx context.Context, contentHash string, data []byte) (bool, error) {
	res, err := r.q(ctx).ExecContext(ctx, `
		INSERT INTO blobs (content_hash, bytes, size) VALUES (?, ?, ?)
		ON CONFLICT (content_hash) DO NOTHING
	`, contentHash, data, len(data))
	if err != nil {
		return false, wrapDBErr("save blob", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBErr("save blob rows affected", err)
	}
	// Dedup race: a concurrent writer's INSERT may have won between our
	// attempt and theirs. The store's UNIQUE constraint on content_hash
	// (the primary key) resolves it; ON CONFLICT DO NOTHING makes the race
	// harmless either way (spec §5 "shared resource policy").
	return n > 0, nil
}

func (r *blobRepo) Get(ctx context.Context, contentHash string) ([]byte, error) {
	var data []byte
	err := r.q(ctx).QueryRowContext(ctx, `SELECT bytes FROM blobs WHERE content_hash = ?`, contentHash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapDBErr("get blob "+contentHash, err)
	}
	return data, wrapDBErr("get blob", err)
}

func (r *blobRepo) DeleteIfOrphaned(ctx context.Context, contentHash string) (bool, error) {
	var refCount int
	err := r.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM commits WHERE content_hash = ?`, contentHash).Scan(&refCount)
	if err != nil {
		return false, wrapDBErr("count blob refs", err)
	}
	if refCount > 0 {
		return false, nil
	}
	res, err := r.q(ctx).ExecContext(ctx, `DELETE FROM blobs WHERE content_hash = ?`, contentHash)
	if err != nil {
		return false, wrapDBErr("delete orphaned blob", err)
	}
	n, err := res.RowsAffected()
	return n > 0, wrapDBErr("delete orphaned blob rows affected", err)
}

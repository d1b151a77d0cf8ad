package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tractvcs/tract/internal/model"
	"github.com/tractvcs/tract/internal/store"
)

type commitRepo Store

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (r *commitRepo) Create(ctx context.Context, c *model.Commit) error {
	metaJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var genJSON sql.NullString
	if c.GenerationConfig != nil {
		b, err := json.Marshal(c.GenerationConfig)
		if err != nil {
			return fmt.Errorf("marshal generation_config: %w", err)
		}
		genJSON = sql.NullString{String: string(b), Valid: true}
	}
	_, err = r.q(ctx).ExecContext(ctx, `
		INSERT INTO commits (
			commit_hash, tract_id, content_hash, content_type, parent_hash,
			operation, edit_target, message, metadata_json,
			generation_config_json, token_count, token_source, created_at, reply_to
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.CommitHash, c.TractID, c.ContentHash, string(c.ContentType), nullable(c.ParentHash),
		string(c.Operation), nullable(c.EditTarget), c.Message, string(metaJSON),
		genJSON, c.TokenCount, nullable(c.TokenSource), c.CreatedAt.UTC().Format(time.RFC3339Nano), nullable(c.ReplyTo),
	)
	return wrapDBErr("create commit "+c.CommitHash, err)
}

func scanCommit(row interface {
	Scan(dest ...interface{}) error
}) (*model.Commit, error) {
	var (
		c                                            model.Commit
		parentHash, editTarget, tokenSource, replyTo sql.NullString
		genJSON                                      sql.NullString
		metaJSON, createdAtStr, contentType, op      string
	)
	if err := row.Scan(
		&c.CommitHash, &c.TractID, &c.ContentHash, &contentType, &parentHash,
		&op, &editTarget, &c.Message, &metaJSON,
		&genJSON, &c.TokenCount, &tokenSource, &createdAtStr, &replyTo,
	); err != nil {
		return nil, err
	}
	c.ContentType = model.ContentType(contentType)
	c.Operation = model.Operation(op)
	c.ParentHash = parentHash.String
	c.EditTarget = editTarget.String
	c.TokenSource = tokenSource.String
	c.ReplyTo = replyTo.String

	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if genJSON.Valid {
		var gc model.GenerationConfig
		if err := json.Unmarshal([]byte(genJSON.String), &gc); err != nil {
			return nil, fmt.Errorf("unmarshal generation_config: %w", err)
		}
		c.GenerationConfig = &gc
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	c.CreatedAt = createdAt
	return &c, nil
}

const commitColumns = `
	commit_hash, tract_id, content_hash, content_type, parent_hash,
	operation, edit_target, message, metadata_json,
	generation_config_json, token_count, token_source, created_at, reply_to
`

func (r *commitRepo) Get(ctx context.Context, commitHash string) (*model.Commit, error) {
	row := r.q(ctx).QueryRowContext(ctx, `SELECT `+commitColumns+` FROM commits WHERE commit_hash = ?`, commitHash)
	c, err := scanCommit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapDBErr("get commit "+commitHash, err)
	}
	if err != nil {
		return nil, wrapDBErr("get commit "+commitHash, err)
	}
	return c, nil
}

// UpdateUsage overwrites token_count/token_source in place; every other
// column is immutable once a commit is created (spec §3-inv).
func (r *commitRepo) UpdateUsage(ctx context.Context, commitHash string, tokenCount int, tokenSource string) error {
	res, err := r.q(ctx).ExecContext(ctx, `UPDATE commits SET token_count = ?, token_source = ? WHERE commit_hash = ?`, tokenCount, tokenSource, commitHash)
	if err != nil {
		return wrapDBErr("update usage "+commitHash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBErr("update usage "+commitHash, err)
	}
	if n == 0 {
		return wrapDBErr("update usage "+commitHash, sql.ErrNoRows)
	}
	return nil
}

func (r *commitRepo) GetByTract(ctx context.Context, tractID string, limit int) ([]*model.Commit, error) {
	query := `SELECT ` + commitColumns + ` FROM commits WHERE tract_id = ? ORDER BY created_at ASC`
	args := []interface{}{tractID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErr("get commits by tract", err)
	}
	defer rows.Close()

	var out []*model.Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, wrapDBErr("scan commit", err)
		}
		out = append(out, c)
	}
	return out, wrapDBErr("iterate commits", rows.Err())
}

// jsonFieldPredicate builds a SQLite json_extract() comparison for one
// get_by_config(_multi) term, mapping the closed operator enum onto SQL
// (spec §9 "string operator dispatch in queries" -> enum -> builder).
func jsonFieldPredicate(field string, op store.ConfigOp, value interface{}) (string, []interface{}, error) {
	path := "$." + field
	switch op {
	case store.OpEq, store.OpNe, store.OpGt, store.OpGe, store.OpLt, store.OpLe:
		return fmt.Sprintf("json_extract(generation_config_json, ?) %s ?", string(op)), []interface{}{path, value}, nil
	case store.OpIn:
		values, ok := value.([]interface{})
		if !ok {
			return "", nil, fmt.Errorf("%w: 'in' requires a slice of values", model.ErrValidation)
		}
		placeholders := strings.Repeat("?,", len(values))
		placeholders = strings.TrimSuffix(placeholders, ",")
		args := []interface{}{path}
		args = append(args, values...)
		return fmt.Sprintf("json_extract(generation_config_json, ?) IN (%s)", placeholders), args, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported operator %q", model.ErrValidation, op)
	}
}

func (r *commitRepo) GetByConfig(ctx context.Context, tractID, field string, op store.ConfigOp, value interface{}) ([]*model.Commit, error) {
	return r.GetByConfigMulti(ctx, tractID, []store.ConfigPredicate{{Field: field, Op: op, Value: value}})
}

func (r *commitRepo) GetByConfigMulti(ctx context.Context, tractID string, predicates []store.ConfigPredicate) ([]*model.Commit, error) {
	query := `SELECT ` + commitColumns + ` FROM commits WHERE tract_id = ?`
	args := []interface{}{tractID}
	for _, p := range predicates {
		clause, pArgs, err := jsonFieldPredicate(p.Field, p.Op, p.Value)
		if err != nil {
			return nil, err
		}
		query += ` AND ` + clause
		args = append(args, pArgs...)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErr("get commits by config", err)
	}
	defer rows.Close()

	var out []*model.Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, wrapDBErr("scan commit", err)
		}
		out = append(out, c)
	}
	return out, wrapDBErr("iterate commits by config", rows.Err())
}

// Delete cascades FK cleanup (spec §3-inv-5): dependent annotations,
// event-commit rows, and refs pointing at this commit are removed first;
// children's parent_hash/edit_target/reply_to are nulled before the row
// itself is deleted.
func (r *commitRepo) Delete(ctx context.Context, commitHash string) error {
	q := r.q(ctx)
	stmts := []struct {
		sql  string
		args []interface{}
	}{
		{`DELETE FROM annotations WHERE target_hash = ?`, []interface{}{commitHash}},
		{`DELETE FROM operation_commits WHERE commit_hash = ?`, []interface{}{commitHash}},
		{`DELETE FROM refs WHERE commit_hash = ?`, []interface{}{commitHash}},
		{`DELETE FROM commit_parents WHERE commit_hash = ? OR parent_hash = ?`, []interface{}{commitHash, commitHash}},
		{`UPDATE commits SET parent_hash = NULL WHERE parent_hash = ?`, []interface{}{commitHash}},
		{`UPDATE commits SET edit_target = NULL WHERE edit_target = ?`, []interface{}{commitHash}},
		{`UPDATE commits SET reply_to = NULL WHERE reply_to = ?`, []interface{}{commitHash}},
		{`DELETE FROM commits WHERE commit_hash = ?`, []interface{}{commitHash}},
	}
	for _, s := range stmts {
		if _, err := q.ExecContext(ctx, s.sql, s.args...); err != nil {
			return wrapDBErr("delete commit "+commitHash, err)
		}
	}
	return nil
}

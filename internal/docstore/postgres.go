package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"backend-skitrip/internal/db"

	"github.com/jackc/pgx/v5"
)

// PostgresBackend stores each document as a JSONB row. Merge writes use the
// jsonb concatenation operator, which is a top-level field merge.
type PostgresBackend struct {
	db db.Querier
}

func NewPostgresBackend(q db.Querier) *PostgresBackend {
	return &PostgresBackend{db: q}
}

func (p *PostgresBackend) Get(ctx context.Context, path string) (map[string]any, bool, error) {
	var raw []byte
	err := p.db.QueryRow(ctx, `SELECT data FROM documents WHERE path=$1`, path).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return fields, true, nil
}

func (p *PostgresBackend) Put(ctx context.Context, path string, fields map[string]any, merge bool) error {
	if fields == nil {
		fields = map[string]any{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	query := `
		INSERT INTO documents (path, parent, data)
		VALUES ($1,$2,$3)
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`
	if merge {
		query = `
		INSERT INTO documents (path, parent, data)
		VALUES ($1,$2,$3)
		ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()
	`
	}
	_, err = p.db.Exec(ctx, query, path, Parent(path), string(raw))
	return err
}

func (p *PostgresBackend) Delete(ctx context.Context, path string) (bool, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM documents WHERE path=$1`, path)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresBackend) List(ctx context.Context, parent string) ([]Snapshot, error) {
	rows, err := p.db.Query(ctx, `
		SELECT path, data
		FROM documents WHERE parent=$1
		ORDER BY path
	`, parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var path string
		var raw []byte
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, err
		}
		snap := Snapshot{Path: path, Exists: true}
		if err := json.Unmarshal(raw, &snap.Data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

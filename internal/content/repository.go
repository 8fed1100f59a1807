package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abduss/dedupdrive/internal/apperror"
)

const repoTimeout = 5 * time.Second

const recordColumns = `content_id, object_name, size_bytes, content_type, ref_count, created_at, updated_at`

// Refs keeps one row per unique content with its reference count. Every
// change is a single-row statement, so counts are atomic per content id.
type Refs struct {
	pool *pgxpool.Pool
}

func NewRefs(pool *pgxpool.Pool) *Refs {
	return &Refs{pool: pool}
}

// Acquire inserts the content with one reference or adds a reference to the
// existing row. created reports whether the row is new.
func (r *Refs) Acquire(ctx context.Context, rec Record) (Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO contents (content_id, object_name, size_bytes, content_type, ref_count)
VALUES ($1, $2, $3, $4, 1)
ON CONFLICT (content_id) DO UPDATE
SET ref_count = contents.ref_count + 1, updated_at = NOW()
RETURNING ` + recordColumns + `, (xmax = 0) AS inserted;`

	var (
		stored  Record
		created bool
	)
	err := r.pool.QueryRow(ctx, query, rec.ID, rec.ObjectName, rec.Size, rec.ContentType).Scan(
		&stored.ID,
		&stored.ObjectName,
		&stored.Size,
		&stored.ContentType,
		&stored.RefCount,
		&stored.CreatedAt,
		&stored.UpdatedAt,
		&created,
	)
	if err != nil {
		return Record{}, false, fmt.Errorf("acquire content reference: %w", err)
	}
	return stored, created, nil
}

// Release removes one reference and returns the remaining count. The count
// never drops below zero.
func (r *Refs) Release(ctx context.Context, id string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE contents
SET ref_count = ref_count - 1, updated_at = NOW()
WHERE content_id = $1 AND ref_count > 0
RETURNING ref_count;`

	var remaining int64
	if err := r.pool.QueryRow(ctx, query, id).Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperror.NotFound("content", id)
		}
		return 0, fmt.Errorf("release content reference: %w", err)
	}
	return remaining, nil
}

func (r *Refs) Get(ctx context.Context, id string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + recordColumns + ` FROM contents WHERE content_id = $1;`

	var rec Record
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.ObjectName,
		&rec.Size,
		&rec.ContentType,
		&rec.RefCount,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, apperror.NotFound("content", id)
		}
		return Record{}, fmt.Errorf("get content: %w", err)
	}
	return rec, nil
}

// Reclaim deletes an unreferenced content row after remove has disposed of
// its bytes. The row stays locked meanwhile, so a concurrent Acquire of the
// same id waits and then recreates it from scratch.
func (r *Refs) Reclaim(ctx context.Context, id string, remove func(ctx context.Context, objectName string) error) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin reclaim: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var objectName string
	err = tx.QueryRow(ctx, `SELECT object_name FROM contents WHERE content_id = $1 AND ref_count = 0 FOR UPDATE;`, id).Scan(&objectName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lock content: %w", err)
	}

	if err := remove(ctx, objectName); err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM contents WHERE content_id = $1;`, id); err != nil {
		return false, fmt.Errorf("delete content: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit reclaim: %w", err)
	}
	return true, nil
}

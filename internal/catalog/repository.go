package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abduss/dedupdrive/internal/apperror"
)

const repoTimeout = 5 * time.Second

const entryColumns = `id, content_id, owner_id, display_name, original_size, mime_type,
	uploaded_at, is_public, public_link, download_count, version, seq`

// Repository is the PostgreSQL-backed Catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a catalog repository on top of a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, entry Entry) (Entry, error) {
	if err := checkEntry(entry); err != nil {
		return Entry{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO file_entries (id, content_id, owner_id, display_name, original_size, mime_type, uploaded_at, is_public, public_link)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + entryColumns + `;`

	stored, err := scanEntry(r.pool.QueryRow(ctx, query,
		entry.ID,
		entry.ContentID,
		entry.OwnerID,
		entry.DisplayName,
		entry.OriginalSize,
		entry.MimeType,
		entry.UploadedAt,
		entry.IsPublic,
		entry.PublicLink,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return Entry{}, apperror.Conflict("entry", entry.ID.String())
		}
		return Entry{}, apperror.Unavailable("create file entry", err)
	}
	return stored, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + entryColumns + ` FROM file_entries WHERE id = $1;`

	stored, err := scanEntry(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, apperror.NotFound("entry", id.String())
		}
		return Entry{}, apperror.Unavailable("get file entry", err)
	}
	return stored, nil
}

func (r *Repository) Update(ctx context.Context, entry Entry) (Entry, error) {
	if err := checkEntry(entry); err != nil {
		return Entry{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE file_entries
SET display_name = $3, is_public = $4, public_link = $5, version = version + 1
WHERE id = $1 AND version = $2
RETURNING ` + entryColumns + `;`

	stored, err := scanEntry(r.pool.QueryRow(ctx, query,
		entry.ID,
		entry.Version,
		entry.DisplayName,
		entry.IsPublic,
		entry.PublicLink,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, r.missOrConflict(ctx, entry.ID)
		}
		if isUniqueViolation(err) {
			return Entry{}, apperror.Conflict("public_link", entry.ID.String())
		}
		return Entry{}, apperror.Unavailable("update file entry", err)
	}
	return stored, nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID, version int64) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `DELETE FROM file_entries WHERE id = $1 AND version = $2 RETURNING ` + entryColumns + `;`

	stored, err := scanEntry(r.pool.QueryRow(ctx, query, id, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, r.missOrConflict(ctx, id)
		}
		return Entry{}, apperror.Unavailable("delete file entry", err)
	}
	return stored, nil
}

func (r *Repository) IncrementDownloads(ctx context.Context, id uuid.UUID) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE file_entries SET download_count = download_count + 1
WHERE id = $1
RETURNING ` + entryColumns + `;`

	stored, err := scanEntry(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, apperror.NotFound("entry", id.String())
		}
		return Entry{}, apperror.Unavailable("increment download count", err)
	}
	return stored, nil
}

func (r *Repository) FindByPublicLink(ctx context.Context, token string) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + entryColumns + ` FROM file_entries WHERE public_link = $1 AND is_public;`

	stored, err := scanEntry(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, apperror.NotFound("public link", "")
		}
		return Entry{}, apperror.Unavailable("find public link", err)
	}
	return stored, nil
}

func (r *Repository) Snapshot(ctx context.Context, scope Scope) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
SELECT ` + entryColumns + `
FROM file_entries
WHERE ($1::uuid IS NULL OR owner_id = $1)
  AND (NOT $2 OR is_public)
ORDER BY seq;`

	rows, err := r.pool.Query(ctx, query, scope.OwnerID, scope.PublicOnly)
	if err != nil {
		return nil, apperror.Unavailable("list file entries", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apperror.Unavailable("scan file entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Unavailable("iterate file entries", err)
	}
	return entries, nil
}

// missOrConflict tells a vanished row from a version mismatch after a
// conditional statement matched nothing.
func (r *Repository) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM file_entries WHERE id = $1);`, id).Scan(&exists); err != nil {
		return apperror.Unavailable("check file entry", err)
	}
	if exists {
		return apperror.Conflict("entry", id.String())
	}
	return apperror.NotFound("entry", id.String())
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	if err := row.Scan(
		&e.ID,
		&e.ContentID,
		&e.OwnerID,
		&e.DisplayName,
		&e.OriginalSize,
		&e.MimeType,
		&e.UploadedAt,
		&e.IsPublic,
		&e.PublicLink,
		&e.DownloadCount,
		&e.Version,
		&e.Seq,
	); err != nil {
		return Entry{}, fmt.Errorf("scan file entry: %w", err)
	}
	e.UploadedAt = e.UploadedAt.UTC()
	return e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// Package catalog stores the logical file entries that reference
// deduplicated content.
//
// Mutations of a single entry are atomic and versioned: Update and Delete take
// the version the caller last read and fail with a conflict error when another
// writer got there first. Snapshot returns whole entries only; a concurrent
// delete is either fully visible or not at all.
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Catalog is implemented by the PostgreSQL Repository and the in-memory
// Memory backend.
type Catalog interface {
	// Create stores a new entry. The returned entry carries the assigned
	// version and sequence number.
	Create(ctx context.Context, entry Entry) (Entry, error)
	Get(ctx context.Context, id uuid.UUID) (Entry, error)
	// Update replaces the mutable fields (display name, visibility, link)
	// when entry.Version still matches the stored version, and bumps it.
	Update(ctx context.Context, entry Entry) (Entry, error)
	// Delete removes the entry when its stored version equals version.
	Delete(ctx context.Context, id uuid.UUID, version int64) (Entry, error)
	// IncrementDownloads adds one to the download counter without touching
	// the version.
	IncrementDownloads(ctx context.Context, id uuid.UUID) (Entry, error)
	FindByPublicLink(ctx context.Context, token string) (Entry, error)
	// Snapshot lists the entries in scope ordered by insertion.
	Snapshot(ctx context.Context, scope Scope) ([]Entry, error)
}

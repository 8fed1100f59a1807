package catalog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/abduss/dedupdrive/internal/apperror"
)

const defaultShardCount = 32

// Memory is an in-process Catalog partitioned into lock-guarded shards so
// mutations of different entries do not contend on one lock.
type Memory struct {
	shards []*shard
	seq    atomic.Int64
}

type shard struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

// NewMemory builds an empty in-memory catalog.
func NewMemory() *Memory {
	m := &Memory{shards: make([]*shard, defaultShardCount)}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[uuid.UUID]Entry)}
	}
	return m
}

func (m *Memory) shardFor(id uuid.UUID) *shard {
	return m.shards[int(id[len(id)-1])%len(m.shards)]
}

func (m *Memory) Create(ctx context.Context, entry Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, apperror.Unavailable("create entry", err)
	}
	if err := checkEntry(entry); err != nil {
		return Entry{}, err
	}

	s := m.shardFor(entry.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return Entry{}, apperror.Conflict("entry", entry.ID.String())
	}

	stored := entry.Clone()
	stored.Version = 1
	stored.DownloadCount = 0
	stored.Seq = m.seq.Add(1)
	s.entries[stored.ID] = stored
	return stored.Clone(), nil
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, apperror.Unavailable("get entry", err)
	}

	s := m.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.entries[id]
	if !ok {
		return Entry{}, apperror.NotFound("entry", id.String())
	}
	return stored.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, entry Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, apperror.Unavailable("update entry", err)
	}
	if err := checkEntry(entry); err != nil {
		return Entry{}, err
	}

	s := m.shardFor(entry.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[entry.ID]
	if !ok {
		return Entry{}, apperror.NotFound("entry", entry.ID.String())
	}
	if stored.Version != entry.Version {
		return Entry{}, apperror.Conflict("entry", entry.ID.String())
	}

	stored.DisplayName = entry.DisplayName
	stored.IsPublic = entry.IsPublic
	stored.PublicLink = entry.Clone().PublicLink
	stored.Version++
	s.entries[stored.ID] = stored
	return stored.Clone(), nil
}

func (m *Memory) Delete(ctx context.Context, id uuid.UUID, version int64) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, apperror.Unavailable("delete entry", err)
	}

	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[id]
	if !ok {
		return Entry{}, apperror.NotFound("entry", id.String())
	}
	if stored.Version != version {
		return Entry{}, apperror.Conflict("entry", id.String())
	}
	delete(s.entries, id)
	return stored, nil
}

func (m *Memory) IncrementDownloads(ctx context.Context, id uuid.UUID) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, apperror.Unavailable("increment downloads", err)
	}

	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[id]
	if !ok {
		return Entry{}, apperror.NotFound("entry", id.String())
	}
	stored.DownloadCount++
	s.entries[id] = stored
	return stored.Clone(), nil
}

func (m *Memory) FindByPublicLink(ctx context.Context, token string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, apperror.Unavailable("find public link", err)
	}
	if token != "" {
		for _, s := range m.shards {
			s.mu.RLock()
			for _, e := range s.entries {
				if e.IsPublic && e.PublicLink != nil && *e.PublicLink == token {
					found := e.Clone()
					s.mu.RUnlock()
					return found, nil
				}
			}
			s.mu.RUnlock()
		}
	}
	return Entry{}, apperror.NotFound("public link", "")
}

func (m *Memory) Snapshot(ctx context.Context, scope Scope) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.Unavailable("snapshot catalog", err)
	}

	var out []Entry
	for _, s := range m.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			if scope.Contains(e) {
				out = append(out, e.Clone())
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// checkEntry enforces the entry invariants every backend relies on.
func checkEntry(e Entry) error {
	if e.ID == uuid.Nil {
		return apperror.InvalidInput("id", "entry id is required")
	}
	if e.ContentID == "" {
		return apperror.InvalidInput("content_id", "content id is required")
	}
	if e.OriginalSize < 0 {
		return apperror.InvalidInput("original_size", "size must not be negative")
	}
	if e.IsPublic != (e.PublicLink != nil) {
		return apperror.InvalidInput("public_link", "public link must be present exactly when the entry is public")
	}
	return nil
}

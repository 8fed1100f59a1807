package file

import (
	"bufio"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abduss/dedupdrive/internal/accounting"
	"github.com/abduss/dedupdrive/internal/apperror"
	"github.com/abduss/dedupdrive/internal/catalog"
	"github.com/abduss/dedupdrive/internal/content"
	"github.com/abduss/dedupdrive/internal/filter"
	"github.com/abduss/dedupdrive/internal/metrics"
	"github.com/abduss/dedupdrive/internal/visibility"
)

const (
	defaultMaxFileSize = 100 * 1024 * 1024 // 100MB
	defaultMimeType    = "application/octet-stream"
	sniffLen           = 512
)

type contentStore interface {
	Put(ctx context.Context, body io.Reader, size int64, contentType string) (content.Ref, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	Release(ctx context.Context, id string) (int64, error)
	Reclaim(ctx context.Context, id string) (bool, error)
}

// Options tune a Service. Zero values fall back to defaults.
type Options struct {
	MaxFileSize  int64
	AllowedTypes []string
	QuotaBytes   int64
	Stats        *accounting.Cache
	Tokens       visibility.TokenGenerator
	Logger       *zap.Logger
	Now          func() time.Time
}

// Service manages the lifecycle of file entries on top of deduplicated
// content.
type Service struct {
	catalog      catalog.Catalog
	contents     contentStore
	visibility   *visibility.Controller
	stats        *accounting.Cache
	logger       *zap.Logger
	nowFunc      func() time.Time
	maxFileSize  int64
	quotaBytes   int64
	allowedTypes map[string]struct{}
}

// NewService constructs a file service.
func NewService(entries catalog.Catalog, contents contentStore, opts Options) *Service {
	s := &Service{
		catalog:     entries,
		contents:    contents,
		visibility:  visibility.NewController(opts.Tokens),
		stats:       opts.Stats,
		logger:      opts.Logger,
		nowFunc:     opts.Now,
		maxFileSize: opts.MaxFileSize,
		quotaBytes:  opts.QuotaBytes,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	if s.maxFileSize <= 0 {
		s.maxFileSize = defaultMaxFileSize
	}
	if len(opts.AllowedTypes) > 0 {
		s.allowedTypes = make(map[string]struct{}, len(opts.AllowedTypes))
		for _, t := range opts.AllowedTypes {
			s.allowedTypes[strings.ToLower(t)] = struct{}{}
		}
	}
	return s
}

// MaxFileSize is the largest accepted upload in bytes.
func (s *Service) MaxFileSize() int64 {
	return s.maxFileSize
}

// Upload stores the bytes once per unique content and creates a new entry
// referencing them. Identical uploads, by the same owner or not, each get
// their own entry.
func (s *Service) Upload(ctx context.Context, ownerID uuid.UUID, input UploadInput) (catalog.Entry, error) {
	if input.Body == nil {
		return catalog.Entry{}, apperror.InvalidInput("file", "missing file payload")
	}
	name, err := normalizeName(input.Name)
	if err != nil {
		if strings.TrimSpace(input.Name) != "" {
			return catalog.Entry{}, err
		}
		name = "upload"
	}
	if input.Size > s.maxFileSize {
		return catalog.Entry{}, tooLarge()
	}

	mimeType, body := detectMimeType(input.MimeType, input.Body)
	if s.allowedTypes != nil {
		if _, ok := s.allowedTypes[mimeType]; !ok {
			return catalog.Entry{}, apperror.InvalidInput("mime_type", "file type "+mimeType+" is not allowed")
		}
	}

	if err := s.checkQuota(ctx, ownerID, max(input.Size, 0)); err != nil {
		return catalog.Entry{}, err
	}

	// read at most one byte past the limit so oversized bodies are detected
	ref, err := s.contents.Put(ctx, io.LimitReader(body, s.maxFileSize+1), input.Size, mimeType)
	if err != nil {
		return catalog.Entry{}, err
	}
	if ref.Size > s.maxFileSize {
		s.discard(ctx, ref.ID)
		return catalog.Entry{}, tooLarge()
	}
	if input.Size < 0 {
		if err := s.checkQuota(ctx, ownerID, ref.Size); err != nil {
			s.discard(ctx, ref.ID)
			return catalog.Entry{}, err
		}
	}

	created, err := s.catalog.Create(ctx, catalog.Entry{
		ID:           uuid.New(),
		ContentID:    ref.ID,
		OwnerID:      ownerID,
		DisplayName:  name,
		OriginalSize: ref.Size,
		MimeType:     mimeType,
		UploadedAt:   s.nowFunc().UTC(),
	})
	if err != nil {
		s.discard(ctx, ref.ID)
		return catalog.Entry{}, err
	}

	s.stats.Invalidate()
	metrics.RecordUpload(created.OriginalSize, ref.Deduplicated)
	s.logger.Info("file uploaded",
		zap.String("entry_id", created.ID.String()),
		zap.String("owner_id", ownerID.String()),
		zap.String("content_id", ref.ID),
		zap.Int64("size", created.OriginalSize),
		zap.Bool("deduplicated", ref.Deduplicated),
		zap.Int64("ref_count", ref.RefCount),
	)
	return created, nil
}

// List evaluates spec over the entries in scope. An unfiltered listing also
// carries the statistics of that scope, computed from the same snapshot.
func (s *Service) List(ctx context.Context, scope catalog.Scope, spec filter.Spec) (Listing, error) {
	if _, err := filter.Compile(spec); err != nil {
		return Listing{}, err
	}

	gen := s.stats.Generation()
	entries, err := s.catalog.Snapshot(ctx, scope)
	if err != nil {
		return Listing{}, err
	}

	files, err := filter.Evaluate(entries, spec)
	if err != nil {
		return Listing{}, err
	}

	listing := Listing{Files: files}
	if spec.IsEmpty() {
		stats := accounting.ComputeStats(entries)
		s.stats.Set(scope.Key(), gen, stats)
		listing.Stats = &stats
	}
	return listing, nil
}

// Stats returns the storage accounting for scope.
func (s *Service) Stats(ctx context.Context, scope catalog.Scope) (accounting.Stats, error) {
	if cached, ok := s.stats.Get(scope.Key()); ok {
		return cached, nil
	}

	gen := s.stats.Generation()
	entries, err := s.catalog.Snapshot(ctx, scope)
	if err != nil {
		return accounting.Stats{}, err
	}
	stats := accounting.ComputeStats(entries)
	s.stats.Set(scope.Key(), gen, stats)
	return stats, nil
}

func (s *Service) Get(ctx context.Context, ownerID, entryID uuid.UUID) (catalog.Entry, error) {
	return s.owned(ctx, ownerID, entryID)
}

// Rename changes the display name of an owned entry.
func (s *Service) Rename(ctx context.Context, ownerID, entryID uuid.UUID, name string) (catalog.Entry, error) {
	name, err := normalizeName(name)
	if err != nil {
		return catalog.Entry{}, err
	}

	entry, err := s.owned(ctx, ownerID, entryID)
	if err != nil {
		return catalog.Entry{}, err
	}
	if entry.DisplayName == name {
		return entry, nil
	}

	entry.DisplayName = name
	return s.update(ctx, "rename", entry)
}

// Delete removes an owned entry and releases its content reference. The
// bytes are reclaimed once no entry references them.
func (s *Service) Delete(ctx context.Context, ownerID, entryID uuid.UUID) error {
	entry, err := s.owned(ctx, ownerID, entryID)
	if err != nil {
		return err
	}

	deleted, err := s.catalog.Delete(ctx, entry.ID, entry.Version)
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			metrics.RecordConflict("delete")
		}
		return err
	}
	s.stats.Invalidate()

	remaining, err := s.contents.Release(ctx, deleted.ContentID)
	if err != nil {
		// the entry is gone but its reference still counts, so the bytes
		// stay until the count is reconciled against the catalog
		metrics.RecordLeakedReference()
		s.logger.Error("content reference leaked",
			zap.String("entry_id", deleted.ID.String()),
			zap.String("owner_id", deleted.OwnerID.String()),
			zap.String("content_id", deleted.ContentID),
			zap.Error(err),
		)
		return err
	}

	reclaimed := false
	if remaining == 0 {
		reclaimed, err = s.contents.Reclaim(ctx, deleted.ContentID)
		if err != nil {
			// the zero-count row is picked up again by the next upload of
			// the same bytes
			s.logger.Warn("reclaim content", zap.String("content_id", deleted.ContentID), zap.Error(err))
		}
	}

	metrics.RecordDelete(reclaimed)
	s.logger.Info("file deleted",
		zap.String("entry_id", deleted.ID.String()),
		zap.String("content_id", deleted.ContentID),
		zap.Int64("remaining_refs", remaining),
		zap.Bool("reclaimed", reclaimed),
	)
	return nil
}

// SetVisibility makes an owned entry public or private. Making a public
// entry public again keeps its link.
func (s *Service) SetVisibility(ctx context.Context, ownerID, entryID uuid.UUID, makePublic bool) (catalog.Entry, error) {
	entry, err := s.owned(ctx, ownerID, entryID)
	if err != nil {
		return catalog.Entry{}, err
	}

	next, changed, err := s.visibility.SetVisibility(entry, makePublic)
	if err != nil || !changed {
		return next, err
	}

	updated, err := s.update(ctx, "visibility", next)
	if err != nil {
		return catalog.Entry{}, err
	}
	s.stats.Invalidate()
	return updated, nil
}

// RotateLink replaces the public link of an owned public entry.
func (s *Service) RotateLink(ctx context.Context, ownerID, entryID uuid.UUID) (catalog.Entry, error) {
	entry, err := s.owned(ctx, ownerID, entryID)
	if err != nil {
		return catalog.Entry{}, err
	}

	next, err := s.visibility.RotateLink(entry)
	if err != nil {
		return catalog.Entry{}, err
	}
	return s.update(ctx, "rotate_link", next)
}

// RecordDownload counts a completed transfer of the entry's bytes.
func (s *Service) RecordDownload(ctx context.Context, entryID uuid.UUID) (catalog.Entry, error) {
	return s.catalog.IncrementDownloads(ctx, entryID)
}

// ResolvePublicLink finds the public entry behind token. Revoked and
// rotated-away tokens are not found.
func (s *Service) ResolvePublicLink(ctx context.Context, token string) (catalog.Entry, error) {
	return s.catalog.FindByPublicLink(ctx, token)
}

// Open streams the bytes of an owned entry.
func (s *Service) Open(ctx context.Context, ownerID, entryID uuid.UUID) (catalog.Entry, io.ReadCloser, error) {
	entry, err := s.owned(ctx, ownerID, entryID)
	if err != nil {
		return catalog.Entry{}, nil, err
	}
	return s.open(ctx, entry)
}

// OpenPublic streams the bytes of the public entry behind token.
func (s *Service) OpenPublic(ctx context.Context, token string) (catalog.Entry, io.ReadCloser, error) {
	entry, err := s.ResolvePublicLink(ctx, token)
	if err != nil {
		return catalog.Entry{}, nil, err
	}
	return s.open(ctx, entry)
}

func (s *Service) open(ctx context.Context, entry catalog.Entry) (catalog.Entry, io.ReadCloser, error) {
	reader, err := s.contents.Open(ctx, entry.ContentID)
	if err != nil {
		return catalog.Entry{}, nil, err
	}
	return entry, reader, nil
}

func (s *Service) owned(ctx context.Context, ownerID, entryID uuid.UUID) (catalog.Entry, error) {
	entry, err := s.catalog.Get(ctx, entryID)
	if err != nil {
		return catalog.Entry{}, err
	}
	if entry.OwnerID != ownerID {
		return catalog.Entry{}, apperror.Forbidden("entry", entryID.String())
	}
	return entry, nil
}

func (s *Service) update(ctx context.Context, op string, entry catalog.Entry) (catalog.Entry, error) {
	updated, err := s.catalog.Update(ctx, entry)
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			metrics.RecordConflict(op)
		}
		return catalog.Entry{}, err
	}
	return updated, nil
}

// checkQuota rejects an upload of size bytes that would take the owner past
// the quota. Concurrent uploads by one owner may overshoot it together.
func (s *Service) checkQuota(ctx context.Context, ownerID uuid.UUID, size int64) error {
	if s.quotaBytes <= 0 {
		return nil
	}
	entries, err := s.catalog.Snapshot(ctx, catalog.OwnerScope(ownerID))
	if err != nil {
		return err
	}
	if used := accounting.ComputeStats(entries).OriginalTotal; used+size > s.quotaBytes {
		return &apperror.Error{
			Kind:    apperror.KindInvalidInput,
			Field:   "file",
			Message: "upload exceeds the storage quota",
			Err:     ErrQuotaExceeded,
		}
	}
	return nil
}

// discard drops the reference an aborted upload took.
func (s *Service) discard(ctx context.Context, contentID string) {
	remaining, err := s.contents.Release(ctx, contentID)
	if err != nil {
		s.logger.Error("release reference of aborted upload", zap.String("content_id", contentID), zap.Error(err))
		return
	}
	if remaining == 0 {
		if _, err := s.contents.Reclaim(ctx, contentID); err != nil {
			s.logger.Warn("reclaim content of aborted upload", zap.String("content_id", contentID), zap.Error(err))
		}
	}
}

func tooLarge() error {
	return &apperror.Error{
		Kind:    apperror.KindInvalidInput,
		Field:   "file",
		Message: "file exceeds the maximum upload size",
		Err:     ErrFileTooLarge,
	}
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", apperror.InvalidInput("display_name", "name must not be empty")
	case len(name) > maxDisplayNameLength:
		return "", apperror.InvalidInput("display_name", "name must be at most 255 bytes")
	case !utf8.ValidString(name):
		return "", apperror.InvalidInput("display_name", "name must be valid UTF-8")
	case strings.ContainsAny(name, "/\\\x00"):
		return "", apperror.InvalidInput("display_name", "name must not contain path separators")
	}
	return name, nil
}

// detectMimeType prefers the declared type and sniffs the first bytes when
// none, or only the generic binary type, was declared.
func detectMimeType(declared string, body io.Reader) (string, io.Reader) {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != defaultMimeType {
		return strings.ToLower(mt), body
	}

	buffered := bufio.NewReaderSize(body, sniffLen)
	head, _ := buffered.Peek(sniffLen)
	if mt, _, err := mime.ParseMediaType(http.DetectContentType(head)); err == nil {
		return mt, buffered
	}
	return defaultMimeType, buffered
}

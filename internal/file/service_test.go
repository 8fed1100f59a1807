package file

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/abduss/dedupdrive/internal/accounting"
	"github.com/abduss/dedupdrive/internal/apperror"
	"github.com/abduss/dedupdrive/internal/catalog"
	"github.com/abduss/dedupdrive/internal/content"
	"github.com/abduss/dedupdrive/internal/filter"
)

func TestUploadThreeIdenticalFilesDeduplicates(t *testing.T) {
	service, contents := newTestService(Options{})
	ctx := context.Background()
	owner := uuid.New()
	payload := bytes.Repeat([]byte("a"), 1_000_000)

	var entries []catalog.Entry
	for i := 0; i < 3; i++ {
		entry, err := service.Upload(ctx, owner, upload("big.bin", "application/zip", payload))
		if err != nil {
			t.Fatalf("upload %d: %v", i, err)
		}
		entries = append(entries, entry)
	}

	if entries[0].ID == entries[1].ID || entries[1].ID == entries[2].ID {
		t.Fatalf("expected distinct entry ids")
	}
	if entries[0].ContentID != entries[2].ContentID {
		t.Fatalf("expected shared content id")
	}
	if got := contents.refCount(entries[0].ContentID); got != 3 {
		t.Fatalf("expected 3 references, got %d", got)
	}

	stats, err := service.Stats(ctx, catalog.OwnerScope(owner))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := accounting.Stats{OriginalTotal: 3_000_000, DedupedTotal: 1_000_000, Savings: 2_000_000, EntryCount: 3, ContentCount: 1}
	if stats != want {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDeleteReleasesAndReclaimsLastReference(t *testing.T) {
	service, contents := newTestService(Options{})
	ctx := context.Background()
	owner := uuid.New()

	first, _ := service.Upload(ctx, owner, upload("a.txt", "text/plain", []byte("shared bytes")))
	second, _ := service.Upload(ctx, owner, upload("b.txt", "text/plain", []byte("shared bytes")))
	before, _ := service.Stats(ctx, catalog.OwnerScope(owner))

	if err := service.Delete(ctx, owner, first.ID); err != nil {
		t.Fatalf("delete first: %v", err)
	}
	if got := contents.refCount(first.ContentID); got != 1 {
		t.Fatalf("expected 1 reference left, got %d", got)
	}
	if contents.wasReclaimed(first.ContentID) {
		t.Fatalf("content reclaimed while still referenced")
	}

	after, _ := service.Stats(ctx, catalog.OwnerScope(owner))
	if after.DedupedTotal != before.DedupedTotal {
		t.Fatalf("deduped total changed from %d to %d", before.DedupedTotal, after.DedupedTotal)
	}
	if after.OriginalTotal != before.OriginalTotal-first.OriginalSize {
		t.Fatalf("original total %d, expected %d", after.OriginalTotal, before.OriginalTotal-first.OriginalSize)
	}

	if err := service.Delete(ctx, owner, second.ID); err != nil {
		t.Fatalf("delete second: %v", err)
	}
	if !contents.wasReclaimed(second.ContentID) {
		t.Fatalf("expected content to be reclaimed")
	}
	if _, err := service.Get(ctx, owner, second.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestMutationsByNonOwnerAreForbidden(t *testing.T) {
	service, contents := newTestService(Options{})
	ctx := context.Background()
	owner, stranger := uuid.New(), uuid.New()

	entry, _ := service.Upload(ctx, owner, upload("mine.txt", "text/plain", []byte("mine")))

	if err := service.Delete(ctx, stranger, entry.ID); !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("delete: expected forbidden, got %v", err)
	}
	if _, err := service.Rename(ctx, stranger, entry.ID, "theirs.txt"); !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("rename: expected forbidden, got %v", err)
	}
	if _, err := service.SetVisibility(ctx, stranger, entry.ID, true); !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("visibility: expected forbidden, got %v", err)
	}

	got, err := service.Get(ctx, owner, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != entry.Version || got.DisplayName != "mine.txt" || got.IsPublic {
		t.Fatalf("entry changed: %+v", got)
	}
	if contents.refCount(entry.ContentID) != 1 {
		t.Fatalf("reference count changed")
	}
}

func TestListFiltersByMimeTypeInUploadOrder(t *testing.T) {
	service, _ := newTestService(Options{})
	ctx := context.Background()
	owner := uuid.New()

	for _, u := range []struct{ name, mime string }{
		{"a.png", "image/png"},
		{"b.txt", "text/plain"},
		{"c.png", "image/png"},
		{"d.pdf", "application/pdf"},
		{"e.jpg", "image/jpeg"},
	} {
		if _, err := service.Upload(ctx, owner, upload(u.name, u.mime, []byte(u.name))); err != nil {
			t.Fatalf("upload %s: %v", u.name, err)
		}
	}

	listing, err := service.List(ctx, catalog.OwnerScope(owner), filter.Spec{MimeTypes: []string{"image/png"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listing.Files) != 2 || listing.Files[0].DisplayName != "a.png" || listing.Files[1].DisplayName != "c.png" {
		t.Fatalf("unexpected files %+v", listing.Files)
	}
	if listing.Stats != nil {
		t.Fatalf("filtered listing must not carry stats")
	}

	all, err := service.List(ctx, catalog.OwnerScope(owner), filter.Spec{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all.Files) != 5 || all.Stats == nil || all.Stats.EntryCount != 5 {
		t.Fatalf("unexpected unfiltered listing %+v", all)
	}
}

func TestListRejectsMalformedFilter(t *testing.T) {
	service, _ := newTestService(Options{})

	_, err := service.List(context.Background(), catalog.Scope{}, filter.Spec{DateRange: &filter.DateRange{Start: "last week"}})
	if !errors.Is(err, apperror.ErrInvalidFilter) {
		t.Fatalf("expected invalid filter, got %v", err)
	}
}

func TestListScopesAreIsolated(t *testing.T) {
	service, _ := newTestService(Options{})
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	a, _ := service.Upload(ctx, alice, upload("a.txt", "text/plain", []byte("a")))
	_, _ = service.Upload(ctx, bob, upload("b.txt", "text/plain", []byte("b")))
	if _, err := service.SetVisibility(ctx, alice, a.ID, true); err != nil {
		t.Fatalf("make public: %v", err)
	}

	own, _ := service.List(ctx, catalog.OwnerScope(bob), filter.Spec{})
	if len(own.Files) != 1 || own.Files[0].OwnerID != bob {
		t.Fatalf("owner scope leaked: %+v", own.Files)
	}

	public, _ := service.List(ctx, catalog.PublicScope(), filter.Spec{})
	if len(public.Files) != 1 || public.Files[0].ID != a.ID {
		t.Fatalf("public scope wrong: %+v", public.Files)
	}

	global, _ := service.Stats(ctx, catalog.Scope{})
	if global.EntryCount != 2 {
		t.Fatalf("expected 2 entries globally, got %d", global.EntryCount)
	}
}

func TestVisibilityRoundTripRevokesLink(t *testing.T) {
	service, _ := newTestService(Options{})
	ctx := context.Background()
	owner := uuid.New()
	entry, _ := service.Upload(ctx, owner, upload("doc.txt", "text/plain", []byte("doc")))

	public, err := service.SetVisibility(ctx, owner, entry.ID, true)
	if err != nil {
		t.Fatalf("make public: %v", err)
	}
	if !public.IsPublic || public.PublicLink == nil {
		t.Fatalf("expected link, got %+v", public)
	}
	link := *public.PublicLink

	again, err := service.SetVisibility(ctx, owner, entry.ID, true)
	if err != nil {
		t.Fatalf("repeat make public: %v", err)
	}
	if *again.PublicLink != link || again.Version != public.Version {
		t.Fatalf("repeat must not rotate: %+v", again)
	}

	resolved, err := service.ResolvePublicLink(ctx, link)
	if err != nil || resolved.ID != entry.ID {
		t.Fatalf("resolve: %+v %v", resolved, err)
	}

	private, err := service.SetVisibility(ctx, owner, entry.ID, false)
	if err != nil {
		t.Fatalf("make private: %v", err)
	}
	if private.IsPublic || private.PublicLink != nil {
		t.Fatalf("expected no link, got %+v", private)
	}
	if _, err := service.ResolvePublicLink(ctx, link); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("revoked link must be not found, got %v", err)
	}

	republished, _ := service.SetVisibility(ctx, owner, entry.ID, true)
	if *republished.PublicLink == link {
		t.Fatalf("old link %q reused", link)
	}
}

func TestRotateLink(t *testing.T) {
	service, _ := newTestService(Options{})
	ctx := context.Background()
	owner := uuid.New()
	entry, _ := service.Upload(ctx, owner, upload("doc.txt", "text/plain", []byte("doc")))

	if _, err := service.RotateLink(ctx, owner, entry.ID); !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("rotating a private entry: expected conflict, got %v", err)
	}

	public, _ := service.SetVisibility(ctx, owner, entry.ID, true)
	rotated, err := service.RotateLink(ctx, owner, entry.ID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if *rotated.PublicLink == *public.PublicLink {
		t.Fatalf("expected a new link")
	}
	if _, err := service.ResolvePublicLink(ctx, *public.PublicLink); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("old link must be not found, got %v", err)
	}
}

func TestConcurrentMutationYieldsConflict(t *testing.T) {
	memory := catalog.NewMemory()
	racing := &racingCatalog{Catalog: memory}
	contents := newFakeContents()
	service := NewService(racing, contents, Options{})
	ctx := context.Background()
	owner := uuid.New()

	entry, _ := service.Upload(ctx, owner, upload("x.txt", "text/plain", []byte("x")))

	// a rename lands between the visibility toggle's read and its write
	racing.beforeUpdate = func() {
		current, _ := memory.Get(ctx, entry.ID)
		current.DisplayName = "renamed.txt"
		if _, err := memory.Update(ctx, current); err != nil {
			t.Errorf("concurrent rename: %v", err)
		}
	}

	if _, err := service.SetVisibility(ctx, owner, entry.ID, true); !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	final, _ := memory.Get(ctx, entry.ID)
	if final.DisplayName != "renamed.txt" || final.IsPublic || final.PublicLink != nil {
		t.Fatalf("unexpected final state %+v", final)
	}
}

func TestRecordDownloadKeepsVersion(t *testing.T) {
	service, _ := newTestService(Options{})
	ctx := context.Background()
	owner := uuid.New()
	entry, _ := service.Upload(ctx, owner, upload("x.txt", "text/plain", []byte("x")))

	for i := 0; i < 3; i++ {
		if _, err := service.RecordDownload(ctx, entry.ID); err != nil {
			t.Fatalf("record download: %v", err)
		}
	}

	got, _ := service.Get(ctx, owner, entry.ID)
	if got.DownloadCount != 3 || got.Version != entry.Version {
		t.Fatalf("unexpected entry %+v", got)
	}
	if _, err := service.Rename(ctx, owner, entry.ID, "y.txt"); err != nil {
		t.Fatalf("rename after downloads: %v", err)
	}
}

func TestUploadCompensatesFailedCatalogCreate(t *testing.T) {
	failing := &racingCatalog{Catalog: catalog.NewMemory(), createErr: apperror.Unavailable("create entry", errors.New("db down"))}
	contents := newFakeContents()
	service := NewService(failing, contents, Options{})

	_, err := service.Upload(context.Background(), uuid.New(), upload("x.txt", "text/plain", []byte("payload")))
	if !errors.Is(err, apperror.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}

	id := digest([]byte("payload"))
	if contents.refCount(id) != 0 || !contents.wasReclaimed(id) {
		t.Fatalf("expected the reference to be released and reclaimed")
	}
}

func TestUploadRejectsOversizedFiles(t *testing.T) {
	service, contents := newTestService(Options{MaxFileSize: 4})
	ctx := context.Background()

	_, err := service.Upload(ctx, uuid.New(), upload("big", "text/plain", []byte("12345")))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("declared size: expected ErrFileTooLarge, got %v", err)
	}

	input := upload("big", "text/plain", []byte("123456789"))
	input.Size = -1
	_, err = service.Upload(ctx, uuid.New(), input)
	if !errors.Is(err, ErrFileTooLarge) || !errors.Is(err, apperror.ErrInvalidInput) {
		t.Fatalf("streamed size: expected ErrFileTooLarge, got %v", err)
	}
	if contents.totalRefs() != 0 {
		t.Fatalf("expected no references left, got %d", contents.totalRefs())
	}
}

func TestUploadEnforcesQuota(t *testing.T) {
	service, _ := newTestService(Options{QuotaBytes: 10})
	ctx := context.Background()
	owner := uuid.New()

	if _, err := service.Upload(ctx, owner, upload("a", "text/plain", []byte("123456"))); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	_, err := service.Upload(ctx, owner, upload("b", "text/plain", []byte("654321")))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}

	if _, err := service.Upload(ctx, uuid.New(), upload("c", "text/plain", []byte("654321"))); err != nil {
		t.Fatalf("another owner's upload: %v", err)
	}
}

func TestUploadDetectsAndRestrictsMimeTypes(t *testing.T) {
	service, _ := newTestService(Options{AllowedTypes: []string{"text/html", "image/png"}})
	ctx := context.Background()

	entry, err := service.Upload(ctx, uuid.New(), upload("page", "", []byte("<html><body>hi</body></html>")))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if entry.MimeType != "text/html" {
		t.Fatalf("expected sniffed text/html, got %q", entry.MimeType)
	}

	_, err = service.Upload(ctx, uuid.New(), upload("notes", "text/plain; charset=utf-8", []byte("plain")))
	if !errors.Is(err, apperror.ErrInvalidInput) {
		t.Fatalf("expected disallowed type to be rejected, got %v", err)
	}
}

func TestRenameValidatesName(t *testing.T) {
	service, _ := newTestService(Options{})
	ctx := context.Background()
	owner := uuid.New()
	entry, _ := service.Upload(ctx, owner, upload("a.txt", "text/plain", []byte("a")))

	for _, name := range []string{"", "   ", "dir/file", strings.Repeat("n", 256)} {
		if _, err := service.Rename(ctx, owner, entry.ID, name); !errors.Is(err, apperror.ErrInvalidInput) {
			t.Fatalf("name %q: expected invalid input, got %v", name, err)
		}
	}

	renamed, err := service.Rename(ctx, owner, entry.ID, "  b.txt ")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.DisplayName != "b.txt" || renamed.Version != entry.Version+1 {
		t.Fatalf("unexpected entry %+v", renamed)
	}
}

func TestStatsCacheIsInvalidatedByMutations(t *testing.T) {
	service, _ := newTestService(Options{Stats: accounting.NewCache(16, time.Hour)})
	ctx := context.Background()
	owner := uuid.New()
	scope := catalog.OwnerScope(owner)

	first, _ := service.Upload(ctx, owner, upload("a", "text/plain", []byte("aaaa")))
	if stats, _ := service.Stats(ctx, scope); stats.EntryCount != 1 {
		t.Fatalf("expected 1 entry, got %d", stats.EntryCount)
	}

	_, _ = service.Upload(ctx, owner, upload("b", "text/plain", []byte("bbbb")))
	if stats, _ := service.Stats(ctx, scope); stats.EntryCount != 2 {
		t.Fatalf("expected 2 entries after upload, got %d", stats.EntryCount)
	}

	_ = service.Delete(ctx, owner, first.ID)
	if stats, _ := service.Stats(ctx, scope); stats.EntryCount != 1 {
		t.Fatalf("expected 1 entry after delete, got %d", stats.EntryCount)
	}
}

func TestStatsTakenBeforeUploadAreNotCached(t *testing.T) {
	gated := &gatedCatalog{
		Catalog: catalog.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	service := NewService(gated, newFakeContents(), Options{Stats: accounting.NewCache(16, time.Hour)})
	ctx := context.Background()
	owner := uuid.New()
	scope := catalog.OwnerScope(owner)

	stalled := make(chan accounting.Stats, 1)
	go func() {
		stats, _ := service.Stats(ctx, scope)
		stalled <- stats
	}()

	<-gated.entered
	if _, err := service.Upload(ctx, owner, upload("a", "text/plain", []byte("aaaa"))); err != nil {
		t.Fatalf("upload: %v", err)
	}
	close(gated.release)
	if stats := <-stalled; stats.EntryCount != 0 {
		t.Fatalf("stalled snapshot should predate the upload, got %d entries", stats.EntryCount)
	}

	stats, err := service.Stats(ctx, scope)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.EntryCount != 1 {
		t.Fatalf("expected 1 entry after completed upload, got %d", stats.EntryCount)
	}

	listing, err := service.List(ctx, scope, filter.Spec{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if listing.Stats == nil || listing.Stats.EntryCount != 1 {
		t.Fatalf("unexpected listing stats %+v", listing.Stats)
	}
}

func TestDeletePropagatesReleaseFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	contents := newFakeContents()
	service := NewService(catalog.NewMemory(), contents, Options{Logger: zap.New(core)})
	ctx := context.Background()
	owner := uuid.New()
	entry, _ := service.Upload(ctx, owner, upload("a", "text/plain", []byte("a")))

	contents.releaseErr = apperror.Unavailable("release content reference", errors.New("timeout"))
	if err := service.Delete(ctx, owner, entry.ID); !errors.Is(err, apperror.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
	if _, err := service.Get(ctx, owner, entry.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("entry should be gone, got %v", err)
	}

	leaked := logs.FilterMessage("content reference leaked").All()
	if len(leaked) != 1 {
		t.Fatalf("expected one leaked reference log, got %d", len(leaked))
	}
	if got := leaked[0].ContextMap()["content_id"]; got != entry.ContentID {
		t.Fatalf("leaked log names content %v, want %s", got, entry.ContentID)
	}
}

func TestOpenStreamsContent(t *testing.T) {
	service, _ := newTestService(Options{})
	ctx := context.Background()
	owner := uuid.New()
	entry, _ := service.Upload(ctx, owner, upload("a", "text/plain", []byte("hello")))

	_, reader, err := service.Open(ctx, owner, entry.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer reader.Close()
	data, _ := io.ReadAll(reader)
	if string(data) != "hello" {
		t.Fatalf("unexpected bytes %q", data)
	}

	if _, _, err := service.OpenPublic(ctx, "unknown"); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// --- helpers & fakes ---

func newTestService(opts Options) (*Service, *fakeContents) {
	contents := newFakeContents()
	return NewService(catalog.NewMemory(), contents, opts), contents
}

func upload(name, mimeType string, data []byte) UploadInput {
	return UploadInput{Name: name, MimeType: mimeType, Size: int64(len(data)), Body: bytes.NewReader(data)}
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type fakeContents struct {
	mu         sync.Mutex
	data       map[string][]byte
	refs       map[string]int64
	reclaimed  map[string]bool
	releaseErr error
}

func newFakeContents() *fakeContents {
	return &fakeContents{
		data:      make(map[string][]byte),
		refs:      make(map[string]int64),
		reclaimed: make(map[string]bool),
	}
}

func (f *fakeContents) Put(_ context.Context, body io.Reader, _ int64, _ string) (content.Ref, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return content.Ref{}, err
	}
	id := digest(data)

	f.mu.Lock()
	defer f.mu.Unlock()
	_, existed := f.data[id]
	f.data[id] = data
	f.refs[id]++
	delete(f.reclaimed, id)
	return content.Ref{ID: id, Size: int64(len(data)), RefCount: f.refs[id], Deduplicated: existed}, nil
}

func (f *fakeContents) Open(_ context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[id]
	if !ok {
		return nil, apperror.NotFound("content", id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeContents) Release(_ context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return 0, f.releaseErr
	}
	if f.refs[id] == 0 {
		return 0, apperror.NotFound("content", id)
	}
	f.refs[id]--
	return f.refs[id], nil
}

func (f *fakeContents) Reclaim(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[id]; !ok || f.refs[id] != 0 {
		return false, nil
	}
	delete(f.data, id)
	f.reclaimed[id] = true
	return true, nil
}

func (f *fakeContents) refCount(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[id]
}

func (f *fakeContents) wasReclaimed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reclaimed[id]
}

func (f *fakeContents) totalRefs() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, n := range f.refs {
		total += n
	}
	return total
}

// gatedCatalog holds the first Snapshot, after it has been read, until
// release is closed.
type gatedCatalog struct {
	catalog.Catalog
	held    atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCatalog) Snapshot(ctx context.Context, scope catalog.Scope) ([]catalog.Entry, error) {
	entries, err := g.Catalog.Snapshot(ctx, scope)
	if g.held.CompareAndSwap(false, true) {
		close(g.entered)
		<-g.release
	}
	return entries, err
}

// racingCatalog lets a test inject failures or a competing write.
type racingCatalog struct {
	catalog.Catalog
	createErr    error
	beforeUpdate func()
}

func (r *racingCatalog) Create(ctx context.Context, entry catalog.Entry) (catalog.Entry, error) {
	if r.createErr != nil {
		return catalog.Entry{}, r.createErr
	}
	return r.Catalog.Create(ctx, entry)
}

func (r *racingCatalog) Update(ctx context.Context, entry catalog.Entry) (catalog.Entry, error) {
	if hook := r.beforeUpdate; hook != nil {
		r.beforeUpdate = nil
		hook()
	}
	return r.Catalog.Update(ctx, entry)
}

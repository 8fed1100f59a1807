// Package content stores file bytes once per unique SHA-256 digest and keeps
// a reference count for every stored content.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"github.com/abduss/dedupdrive/internal/apperror"
)

const (
	// StagingPrefix holds uploads whose digest is not known yet.
	StagingPrefix = "staging/"
	contentPrefix = "content/"
)

// ObjectName is the content-addressed object key for a content id.
func ObjectName(id string) string {
	return contentPrefix + id
}

type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

type refStore interface {
	Acquire(ctx context.Context, rec Record) (Record, bool, error)
	Release(ctx context.Context, id string) (int64, error)
	Get(ctx context.Context, id string) (Record, error)
	Reclaim(ctx context.Context, id string, remove func(ctx context.Context, objectName string) error) (bool, error)
}

// Store is the content-addressed byte store.
type Store struct {
	objects objectStore
	refs    refStore
	bucket  string
	logger  *zap.Logger
}

func NewStore(objects objectStore, refs refStore, bucket string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{objects: objects, refs: refs, bucket: bucket, logger: logger}
}

// Put streams body into a staging object while hashing it, then takes a
// reference on the content with that digest. The bytes are promoted to their
// content-addressed name only when no copy exists yet. size may be -1 when
// unknown.
func (s *Store) Put(ctx context.Context, body io.Reader, size int64, contentType string) (Ref, error) {
	stagingName := StagingPrefix + uuid.NewString()

	hasher := sha256.New()
	counter := &countingWriter{}
	reader := io.TeeReader(body, io.MultiWriter(hasher, counter))

	if _, err := s.objects.PutObject(ctx, s.bucket, stagingName, reader, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return Ref{}, apperror.Unavailable("stage content", err)
	}
	defer s.removeStaging(stagingName)

	id := hex.EncodeToString(hasher.Sum(nil))
	rec, created, err := s.refs.Acquire(ctx, Record{
		ID:          id,
		ObjectName:  ObjectName(id),
		Size:        counter.n,
		ContentType: contentType,
	})
	if err != nil {
		return Ref{}, apperror.Unavailable("acquire content reference", err)
	}

	if err := s.promote(ctx, stagingName, rec.ObjectName, created); err != nil {
		if _, releaseErr := s.refs.Release(ctx, id); releaseErr != nil {
			s.logger.Error("release reference after failed promote",
				zap.String("content_id", id),
				zap.Error(releaseErr),
			)
		}
		return Ref{}, apperror.Unavailable("store content", err)
	}

	return Ref{
		ID:           rec.ID,
		Size:         rec.Size,
		RefCount:     rec.RefCount,
		Deduplicated: !created,
	}, nil
}

// Open streams the bytes of a content.
func (s *Store) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	rec, err := s.refs.Get(ctx, id)
	if err != nil {
		return nil, apperror.Unavailable("get content", err)
	}
	object, err := s.objects.GetObject(ctx, s.bucket, rec.ObjectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperror.Unavailable("fetch object", err)
	}
	return object, nil
}

// Release drops one reference and returns how many remain.
func (s *Store) Release(ctx context.Context, id string) (int64, error) {
	remaining, err := s.refs.Release(ctx, id)
	if err != nil {
		return 0, apperror.Unavailable("release content reference", err)
	}
	return remaining, nil
}

// Reclaim removes the bytes of a content nobody references anymore. It
// reports false when the content is still referenced or already gone.
func (s *Store) Reclaim(ctx context.Context, id string) (bool, error) {
	reclaimed, err := s.refs.Reclaim(ctx, id, func(ctx context.Context, objectName string) error {
		return s.objects.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
	})
	if err != nil {
		return false, apperror.Unavailable("reclaim content", err)
	}
	return reclaimed, nil
}

// RefCount reports the current number of references to a content.
func (s *Store) RefCount(ctx context.Context, id string) (int64, error) {
	rec, err := s.refs.Get(ctx, id)
	if err != nil {
		return 0, apperror.Unavailable("get content", err)
	}
	return rec.RefCount, nil
}

func (s *Store) promote(ctx context.Context, stagingName, objectName string, created bool) error {
	if !created {
		_, err := s.objects.StatObject(ctx, s.bucket, objectName, minio.StatObjectOptions{})
		if err == nil {
			return nil
		}
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			return err
		}
		s.logger.Warn("content object missing, restoring from upload", zap.String("object", objectName))
	}

	_, err := s.objects.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: objectName},
		minio.CopySrcOptions{Bucket: s.bucket, Object: stagingName},
	)
	return err
}

func (s *Store) removeStaging(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), repoTimeout)
	defer cancel()

	if err := s.objects.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		s.logger.Warn("remove staging object", zap.String("object", name), zap.Error(err))
	}
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

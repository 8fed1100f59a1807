// Package presigned hands out time-limited MinIO URLs that let an owner
// fetch stored bytes directly from object storage.
package presigned

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"time"

	"github.com/abduss/dedupdrive/internal/apperror"
	"github.com/abduss/dedupdrive/internal/catalog"
	"github.com/abduss/dedupdrive/internal/content"
)

// urlSigner is satisfied by *minio.Client.
type urlSigner interface {
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// Link is a presigned download URL and the instant it stops working.
type Link struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service struct {
	signer     urlSigner
	bucket     string
	defaultTTL time.Duration
	maxTTL     time.Duration
	nowFunc    func() time.Time
}

func NewService(signer urlSigner, bucket string, defaultTTL, maxTTL time.Duration) *Service {
	return &Service{
		signer:     signer,
		bucket:     bucket,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		nowFunc:    time.Now,
	}
}

// DownloadURL signs a GET for the content behind entry. The response
// carries the entry's display name and MIME type, not the digest. A zero
// ttl selects the default lifetime.
func (s *Service) DownloadURL(ctx context.Context, entry catalog.Entry, ttl time.Duration) (Link, error) {
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl < time.Second || ttl > s.maxTTL {
		return Link{}, apperror.InvalidInput("ttl", fmt.Sprintf("ttl must be between 1s and %s", s.maxTTL))
	}

	params := make(url.Values)
	params.Set("response-content-disposition", mime.FormatMediaType("attachment", map[string]string{"filename": entry.DisplayName}))
	if entry.MimeType != "" {
		params.Set("response-content-type", entry.MimeType)
	}

	issuedAt := s.nowFunc()
	u, err := s.signer.PresignedGetObject(ctx, s.bucket, content.ObjectName(entry.ContentID), ttl, params)
	if err != nil {
		return Link{}, apperror.Unavailable("presign download", err)
	}

	return Link{
		URL:       u.String(),
		Method:    "GET",
		ExpiresAt: issuedAt.Add(ttl).UTC(),
	}, nil
}

package file

import (
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/abduss/dedupdrive/internal/accounting"
	"github.com/abduss/dedupdrive/internal/catalog"
)

const maxDisplayNameLength = 255

// UploadInput describes one incoming file. Size is the declared length, or
// -1 when unknown.
type UploadInput struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

// Listing is the result of a list or search. Stats is only set for an
// unfiltered listing and covers the same scope.
type Listing struct {
	Files []catalog.Entry   `json:"files"`
	Stats *accounting.Stats `json:"stats,omitempty"`
}

// PublicEntry is what anonymous callers see of a public entry. The content
// digest and the owner stay private.
type PublicEntry struct {
	ID            uuid.UUID `json:"id"`
	DisplayName   string    `json:"display_name"`
	OriginalSize  int64     `json:"original_size"`
	MimeType      string    `json:"mime_type"`
	UploadedAt    time.Time `json:"uploaded_at"`
	PublicLink    string    `json:"public_link"`
	DownloadCount int64     `json:"download_count"`
}

// PublicListing is a Listing over the public scope.
type PublicListing struct {
	Files []PublicEntry     `json:"files"`
	Stats *accounting.Stats `json:"stats,omitempty"`
}

func newPublicListing(listing Listing) PublicListing {
	files := make([]PublicEntry, 0, len(listing.Files))
	for _, entry := range listing.Files {
		public := PublicEntry{
			ID:            entry.ID,
			DisplayName:   entry.DisplayName,
			OriginalSize:  entry.OriginalSize,
			MimeType:      entry.MimeType,
			UploadedAt:    entry.UploadedAt,
			DownloadCount: entry.DownloadCount,
		}
		if entry.PublicLink != nil {
			public.PublicLink = *entry.PublicLink
		}
		files = append(files, public)
	}
	return PublicListing{Files: files, Stats: listing.Stats}
}

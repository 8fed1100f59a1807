package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one logical, user-visible reference to stored content.
type Entry struct {
	ID            uuid.UUID `json:"id"`
	ContentID     string    `json:"content_id"`
	OwnerID       uuid.UUID `json:"owner_id"`
	DisplayName   string    `json:"display_name"`
	OriginalSize  int64     `json:"original_size"`
	MimeType      string    `json:"mime_type"`
	UploadedAt    time.Time `json:"uploaded_at"`
	IsPublic      bool      `json:"is_public"`
	PublicLink    *string   `json:"public_link,omitempty"`
	DownloadCount int64     `json:"download_count"`
	Version       int64     `json:"version"`
	Seq           int64     `json:"-"`
}

// Clone returns a copy that shares no pointers with e.
func (e Entry) Clone() Entry {
	if e.PublicLink != nil {
		link := *e.PublicLink
		e.PublicLink = &link
	}
	return e
}

// Scope selects the entries a listing or statistics call covers. The zero
// value is the global scope.
type Scope struct {
	OwnerID    *uuid.UUID
	PublicOnly bool
}

// OwnerScope scopes to a single owner.
func OwnerScope(ownerID uuid.UUID) Scope {
	return Scope{OwnerID: &ownerID}
}

// PublicScope scopes to public entries of every owner.
func PublicScope() Scope {
	return Scope{PublicOnly: true}
}

// Contains reports whether e falls inside the scope.
func (s Scope) Contains(e Entry) bool {
	if s.OwnerID != nil && e.OwnerID != *s.OwnerID {
		return false
	}
	if s.PublicOnly && !e.IsPublic {
		return false
	}
	return true
}

// Key is a stable string form used for cache keys and log fields.
func (s Scope) Key() string {
	key := "global"
	if s.OwnerID != nil {
		key = "owner:" + s.OwnerID.String()
	}
	if s.PublicOnly {
		key += "+public"
	}
	return key
}

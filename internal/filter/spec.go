// Package filter evaluates multi-field filters over catalog entries.
package filter

import (
	"github.com/google/uuid"
)

// Spec lists every recognised filter option. Absent fields impose no
// constraint; present fields are combined with AND.
type Spec struct {
	// NamePattern is a case-sensitive substring of the display name. Empty
	// means no constraint.
	NamePattern string `json:"namePattern,omitempty"`
	// MimeTypes is the set of accepted exact types. nil means no
	// constraint; an empty non-nil set accepts nothing.
	MimeTypes []string   `json:"mimeTypes,omitempty"`
	SizeRange *SizeRange `json:"sizeRange,omitempty"`
	DateRange *DateRange `json:"dateRange,omitempty"`
	OwnerID   *uuid.UUID `json:"ownerId,omitempty"`
	IsPublic  *bool      `json:"isPublic,omitempty"`
}

// SizeRange is an inclusive byte range; a nil bound is open.
type SizeRange struct {
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`
}

// DateRange is an inclusive upload-time range. Bounds are RFC 3339
// timestamps or YYYY-MM-DD dates; an empty bound is open.
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// IsEmpty reports whether the spec constrains nothing.
func (s Spec) IsEmpty() bool {
	return s.NamePattern == "" &&
		s.MimeTypes == nil &&
		(s.SizeRange == nil || (s.SizeRange.Min == nil && s.SizeRange.Max == nil)) &&
		(s.DateRange == nil || (s.DateRange.Start == "" && s.DateRange.End == "")) &&
		s.OwnerID == nil &&
		s.IsPublic == nil
}

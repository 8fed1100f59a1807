package filter

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abduss/dedupdrive/internal/apperror"
	"github.com/abduss/dedupdrive/internal/catalog"
)

const dateOnlyLayout = "2006-01-02"

// Matcher is a validated, ready-to-apply Spec.
type Matcher struct {
	name     string
	mimes    map[string]struct{}
	minSize  int64
	maxSize  int64
	start    time.Time
	end      time.Time
	hasStart bool
	hasEnd   bool
	owner    *uuid.UUID
	isPublic *bool

	sizeInverted bool
	dateInverted bool
}

// Compile validates spec. Negative sizes and unparseable dates fail with an
// invalid-filter error; inverted ranges compile to a matcher that accepts
// nothing.
func Compile(spec Spec) (Matcher, error) {
	m := Matcher{
		name:     spec.NamePattern,
		minSize:  0,
		maxSize:  math.MaxInt64,
		owner:    spec.OwnerID,
		isPublic: spec.IsPublic,
	}

	if spec.MimeTypes != nil {
		m.mimes = make(map[string]struct{}, len(spec.MimeTypes))
		for _, mt := range spec.MimeTypes {
			m.mimes[mt] = struct{}{}
		}
	}

	if r := spec.SizeRange; r != nil {
		if r.Min != nil {
			if *r.Min < 0 {
				return Matcher{}, apperror.InvalidFilter("sizeRange.min", "size bound must not be negative")
			}
			m.minSize = *r.Min
		}
		if r.Max != nil {
			if *r.Max < 0 {
				return Matcher{}, apperror.InvalidFilter("sizeRange.max", "size bound must not be negative")
			}
			m.maxSize = *r.Max
		}
		m.sizeInverted = m.minSize > m.maxSize
	}

	if r := spec.DateRange; r != nil {
		if r.Start != "" {
			start, err := parseBound(r.Start, false)
			if err != nil {
				return Matcher{}, apperror.InvalidFilter("dateRange.start", "expected RFC 3339 timestamp or YYYY-MM-DD date")
			}
			m.start, m.hasStart = start, true
		}
		if r.End != "" {
			end, err := parseBound(r.End, true)
			if err != nil {
				return Matcher{}, apperror.InvalidFilter("dateRange.end", "expected RFC 3339 timestamp or YYYY-MM-DD date")
			}
			m.end, m.hasEnd = end, true
		}
		m.dateInverted = m.hasStart && m.hasEnd && m.start.After(m.end)
	}

	return m, nil
}

// Match reports whether e satisfies every present predicate.
func (m Matcher) Match(e catalog.Entry) bool {
	if m.sizeInverted || m.dateInverted {
		return false
	}
	if m.name != "" && !strings.Contains(e.DisplayName, m.name) {
		return false
	}
	if m.mimes != nil {
		if _, ok := m.mimes[e.MimeType]; !ok {
			return false
		}
	}
	if e.OriginalSize < m.minSize || e.OriginalSize > m.maxSize {
		return false
	}
	if m.hasStart && e.UploadedAt.Before(m.start) {
		return false
	}
	if m.hasEnd && e.UploadedAt.After(m.end) {
		return false
	}
	if m.owner != nil && e.OwnerID != *m.owner {
		return false
	}
	if m.isPublic != nil && e.IsPublic != *m.isPublic {
		return false
	}
	return true
}

// Evaluate returns the entries matching spec in their input order.
func Evaluate(entries []catalog.Entry, spec Spec) ([]catalog.Entry, error) {
	m, err := Compile(spec)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Entry, 0, len(entries))
	for _, e := range entries {
		if m.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Validate is the strict form used at request boundaries: on top of the
// Compile checks it rejects inverted ranges instead of matching nothing.
func Validate(spec Spec) error {
	m, err := Compile(spec)
	if err != nil {
		return err
	}
	if m.sizeInverted {
		return apperror.InvalidFilter("sizeRange", "min must not exceed max")
	}
	if m.dateInverted {
		return apperror.InvalidFilter("dateRange", "start must not be after end")
	}
	return nil
}

// parseBound parses a date bound. A date-only end bound is extended to the
// last instant of that day so the range stays inclusive.
func parseBound(value string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateOnlyLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

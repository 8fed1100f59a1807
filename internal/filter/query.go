package filter

import (
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/abduss/dedupdrive/internal/apperror"
)

// Query parameter names accepted by ParseQuery.
const (
	ParamName      = "name"
	ParamMimeType  = "mimeType"
	ParamMinSize   = "minSize"
	ParamMaxSize   = "maxSize"
	ParamStartDate = "startDate"
	ParamEndDate   = "endDate"
	ParamOwner     = "owner"
	ParamIsPublic  = "isPublic"
)

var knownParams = map[string]struct{}{
	ParamName:      {},
	ParamMimeType:  {},
	ParamMinSize:   {},
	ParamMaxSize:   {},
	ParamStartDate: {},
	ParamEndDate:   {},
	ParamOwner:     {},
	ParamIsPublic:  {},
}

// ParseQuery builds a validated Spec from URL query parameters. Unknown
// parameters are rejected, as is any parameter other than mimeType given
// more than once. Repeated mimeType values are merged.
func ParseQuery(values url.Values) (Spec, error) {
	for key := range values {
		if _, ok := knownParams[key]; !ok {
			return Spec{}, apperror.InvalidFilter(key, "unknown filter parameter")
		}
	}

	for key, vals := range values {
		if key != ParamMimeType && len(vals) > 1 {
			return Spec{}, apperror.InvalidFilter(key, "parameter given more than once")
		}
	}

	var spec Spec
	spec.NamePattern = values.Get(ParamName)

	for _, raw := range values[ParamMimeType] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				spec.MimeTypes = append(spec.MimeTypes, part)
			}
		}
	}

	min, err := parseSize(values, ParamMinSize)
	if err != nil {
		return Spec{}, err
	}
	max, err := parseSize(values, ParamMaxSize)
	if err != nil {
		return Spec{}, err
	}
	if min != nil || max != nil {
		spec.SizeRange = &SizeRange{Min: min, Max: max}
	}

	start, end := values.Get(ParamStartDate), values.Get(ParamEndDate)
	if start != "" || end != "" {
		spec.DateRange = &DateRange{Start: start, End: end}
	}

	if raw := values.Get(ParamOwner); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Spec{}, apperror.InvalidFilter(ParamOwner, "owner must be a UUID")
		}
		spec.OwnerID = &id
	}

	if raw := values.Get(ParamIsPublic); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Spec{}, apperror.InvalidFilter(ParamIsPublic, "isPublic must be true or false")
		}
		spec.IsPublic = &b
	}

	if err := Validate(spec); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// DecodeJSON reads a Spec from a JSON body, rejecting unknown fields and
// anything after the first JSON value. An empty body is the empty spec.
func DecodeJSON(r io.Reader) (Spec, error) {
	var spec Spec
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return Spec{}, nil
		}
		if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			return Spec{}, apperror.InvalidFilter(strings.Trim(field, `"`), "unknown filter field")
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Spec{}, apperror.InvalidFilter(typeErr.Field, "wrong type for filter field")
		}
		return Spec{}, apperror.InvalidFilter("body", "malformed filter JSON")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Spec{}, apperror.InvalidFilter("body", "unexpected data after filter JSON")
	}
	if err := Validate(spec); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func parseSize(values url.Values, key string) (*int64, error) {
	raw := values.Get(key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperror.InvalidFilter(key, "size must be an integer number of bytes")
	}
	return &n, nil
}

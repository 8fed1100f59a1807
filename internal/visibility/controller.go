// Package visibility applies public/private transitions to catalog entries
// and issues their public link tokens.
package visibility

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/abduss/dedupdrive/internal/apperror"
	"github.com/abduss/dedupdrive/internal/catalog"
)

const tokenLength = 32

// TokenGenerator issues opaque, unpredictable link tokens.
type TokenGenerator interface {
	NewToken() (string, error)
}

// RandomTokens draws tokens from crypto/rand.
type RandomTokens struct{}

func (RandomTokens) NewToken() (string, error) {
	raw := make([]byte, tokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Controller computes the next state of an entry for a visibility change.
// It does not persist anything; the caller writes the result back through
// the catalog, which rejects it if the entry moved in the meantime.
type Controller struct {
	tokens TokenGenerator
}

func NewController(tokens TokenGenerator) *Controller {
	if tokens == nil {
		tokens = RandomTokens{}
	}
	return &Controller{tokens: tokens}
}

// SetVisibility returns entry with the requested visibility and reports
// whether anything changed. Making an already-public entry public keeps its
// link.
func (c *Controller) SetVisibility(entry catalog.Entry, makePublic bool) (catalog.Entry, bool, error) {
	if entry.IsPublic == makePublic {
		return entry, false, nil
	}

	if !makePublic {
		entry.IsPublic = false
		entry.PublicLink = nil
		return entry, true, nil
	}

	token, err := c.issue(entry.PublicLink)
	if err != nil {
		return catalog.Entry{}, false, err
	}
	entry.IsPublic = true
	entry.PublicLink = &token
	return entry, true, nil
}

// RotateLink replaces the link of a public entry with a fresh token. Private
// entries have no link to rotate.
func (c *Controller) RotateLink(entry catalog.Entry) (catalog.Entry, error) {
	if !entry.IsPublic {
		return catalog.Entry{}, &apperror.Error{
			Kind:    apperror.KindConflict,
			ID:      entry.ID.String(),
			Message: "entry is private, make it public before rotating its link",
		}
	}

	token, err := c.issue(entry.PublicLink)
	if err != nil {
		return catalog.Entry{}, err
	}
	entry.PublicLink = &token
	return entry, nil
}

func (c *Controller) issue(previous *string) (string, error) {
	token, err := c.tokens.NewToken()
	if err != nil {
		return "", apperror.Unavailable("generate public link", err)
	}
	if token == "" || (previous != nil && token == *previous) {
		return "", apperror.Unavailable("generate public link", errReusedToken)
	}
	return token, nil
}

// Package pagination implements the keyset cursors behind the product
// catalog listing. Pages are ordered by (created_at, id); a cursor names the
// last product of the previous page, with the id breaking ties between
// products created in the same instant.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLimit is the catalog page size when the shopper does not ask
	// for one.
	DefaultLimit = 25
	// MaxLimit caps a single catalog page regardless of the requested size.
	MaxLimit = 100
)

// Params carry the raw listing inputs as they arrive from the query string.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is a decoded keyset position in the catalog ordering.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// NormalizeLimit clamps the requested page size to MaxLimit, substituting
// DefaultLimit when none was given.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// LimitWithBuffer widens the page by one row so the service can tell whether
// another page exists without issuing a count query.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// EncodeCursor serializes a keyset position into an opaque token that is
// safe to round-trip through a query string.
func EncodeCursor(cursor Cursor) string {
	raw := cursor.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + cursor.ID.String()
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a shopper-supplied token. An empty token means the
// first page; anything that does not round-trip through EncodeCursor is
// rejected rather than guessed at.
func ParseCursor(value string) (*Cursor, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	raw, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	stamp, rest, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, fmt.Errorf("malformed cursor")
	}

	createdAt, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor position: %w", err)
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor id: %w", err)
	}
	return &Cursor{CreatedAt: createdAt, ID: id}, nil
}

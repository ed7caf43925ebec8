// Package pagination implements opaque keyset cursors over a total order of
// (sort key, id) pairs, newest first.
package pagination

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	ErrorInvalidCursor = "WEARABLES_INVALID_CURSOR"
)

type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// Cursor identifies a position in the order: the sort key at millisecond
// precision plus the record id as a tie-breaker.
type Cursor struct {
	SortKey time.Time
	ID      string
}

// NewCursor truncates sortKey to whole milliseconds, the precision the
// encoded form carries. Ordering in this package compares keys at the same
// precision, so sub-millisecond differences never split a page.
func NewCursor(sortKey time.Time, id string) Cursor {
	return Cursor{SortKey: time.UnixMilli(sortKey.UnixMilli()).UTC(), ID: id}
}

// Encode returns base64url (no padding) of "<unix_millis>:<id>".
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.SortKey.UnixMilli(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func (c Cursor) String() string {
	return c.Encode()
}

func (c Cursor) MarshalText() ([]byte, error) {
	return []byte(c.Encode()), nil
}

func (c *Cursor) UnmarshalText(text []byte) error {
	decoded, err := DecodeCursor(string(text))
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

// DecodeCursor splits at the first ':' so ids may contain colons.
func DecodeCursor(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, invalidCursorError("cursor is empty")
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, invalidCursorError("cursor is not valid base64url")
	}
	millisPart, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Cursor{}, invalidCursorError("cursor is missing the id separator")
	}
	millis, err := strconv.ParseInt(millisPart, 10, 64)
	if err != nil {
		return Cursor{}, invalidCursorError("cursor sort key is not a timestamp")
	}
	return Cursor{SortKey: time.UnixMilli(millis).UTC(), ID: id}, nil
}

// Params requests one page. Cursor is the opaque token from a previous page.
type Params struct {
	Cursor    string
	Limit     int
	Direction Direction
}

func (p Params) NormalizedLimit() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return p.Limit
	}
}

func (p Params) NormalizedDirection() Direction {
	if p.Direction == Backward {
		return Backward
	}
	return Forward
}

func (p Params) HasCursor() bool {
	return strings.TrimSpace(p.Cursor) != ""
}

// Page is one window of results plus the cursors to move around it.
type Page[T any] struct {
	Items      []T
	NextCursor string
	PrevCursor string
	HasMore    bool
	Count      int
}

func EmptyPage[T any]() Page[T] {
	return Page[T]{Items: []T{}}
}

func invalidCursorError(message string) *goerrors.Error {
	return goerrors.New("pagination: "+message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorInvalidCursor)
}

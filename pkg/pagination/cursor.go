// Package pagination implements the opaque, versioned cursor shared by the
// signal log and decision store range queries: both order results
// (accepted_at|decided_at ASC, internal id ASC) and page using the same
// "v1:<internal id>" cursor encoding.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const cursorPrefix = "v1:"

// DefaultPageSize applies when a request omits page_size; explicit values
// must land in [MinPageSize, MaxPageSize].
const (
	DefaultPageSize = 100
	MinPageSize     = 1
	MaxPageSize     = 1000
)

// EncodeCursor produces the opaque, versioned cursor for lastInternalID —
// the internal id of the last record returned on the current page.
func EncodeCursor(lastInternalID int64) string {
	raw := fmt.Sprintf("%s%d", cursorPrefix, lastInternalID)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor recovers the internal id encoded by EncodeCursor. An empty
// token decodes to (0, true) — the start of the result set.
func DecodeCursor(token string) (int64, bool) {
	if token == "" {
		return 0, true
	}
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return 0, false
	}
	s := string(decoded)
	if !strings.HasPrefix(s, cursorPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(s, cursorPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ValidatePageSize validates an explicitly-requested page size: the bound
// is [MinPageSize, MaxPageSize] inclusive, and 0 is out of range rather
// than an alias for "use the default" — callers only substitute
// DefaultPageSize when the request omitted the parameter entirely, which
// this function cannot distinguish from an explicit 0.
func ValidatePageSize(requested int) (int, bool) {
	if requested < MinPageSize || requested > MaxPageSize {
		return 0, false
	}
	return requested, true
}

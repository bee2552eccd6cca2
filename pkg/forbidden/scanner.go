// Package forbidden implements the closed-set semantic-key scanner enforced
// at every boundary where opaque payload JSON is accepted or persisted:
// signal payloads, derived learner state, and decision context.
//
// Detection operates on the raw JSON token stream rather than a decoded
// map so that object key order — and therefore which forbidden key is
// reported first — is preserved exactly as it appeared on the wire. A
// plain map[string]any would lose that order and make the "first match
// wins" contract non-deterministic across runs.
package forbidden

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Hit is the first forbidden key found during a scan, or nil if none.
type Hit struct {
	Key  string
	Path string
}

// Keys is the closed set of forbidden semantic keys. Presence of any of
// these at any depth in a scanned payload, state, or decision context
// indicates a domain leak and must be rejected.
var Keys = map[string]struct{}{
	"ui": {}, "screen": {}, "view": {}, "page": {}, "route": {}, "url": {},
	"link": {}, "button": {}, "cta": {}, "workflow": {}, "task": {}, "job": {},
	"assignment": {}, "assignee": {}, "owner": {}, "status": {}, "step": {},
	"stage": {}, "completion": {}, "progress_percent": {}, "course": {},
	"lesson": {}, "module": {}, "quiz": {}, "score": {}, "grade": {},
	"content_id": {}, "content_url": {},
}

// object is an order-preserving decoded JSON object. Decoded values are
// either *object, []any (for arrays; elements may themselves be
// *object/[]any/scalar), or a scalar (string, json.Number, bool, nil).
type object struct {
	keys []string
	vals []any
}

// Scan walks raw (a JSON object or array; scalars yield no hit) and returns
// the first forbidden key found in pre-order, insertion-order traversal,
// rooted at basePath using dot notation with bracketed array indices
// (e.g. "payload.items[0].workflow").
func Scan(raw []byte, basePath string) (*Hit, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	val, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("forbidden: decode: %w", err)
	}
	return scanValue(val, basePath), nil
}

// ScanValue scans an already-decoded value (e.g. produced by a reducer
// such as the state engine's deep-merge) rather than raw JSON bytes.
// Decoded values must use map[string]any / []any / scalar shapes. Go map
// iteration order is not stable across runs, so callers that need the
// "first match wins" report to be deterministic should prefer Scan over
// raw bytes where the input originates externally; for internally-computed
// values the *existence* of a forbidden key, not which one is reported
// first, is what matters.
func ScanValue(v any, basePath string) *Hit {
	return scanValue(toOrdered(v), basePath)
}

func toOrdered(v any) any {
	switch t := v.(type) {
	case map[string]any:
		obj := &object{}
		for k, val := range t {
			obj.keys = append(obj.keys, k)
			obj.vals = append(obj.vals, toOrdered(val))
		}
		return obj
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toOrdered(e)
		}
		return out
	default:
		return v
	}
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, isDelim := tok.(json.Delim)
	if !isDelim {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := &object{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj.keys = append(obj.keys, key)
			obj.vals = append(obj.vals, val)
		}
		if _, err := dec.Token(); err != nil { // consume '}'
			return nil, err
		}
		return obj, nil
	case '[':
		var arr []any
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil { // consume ']'
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %v", delim)
	}
}

func scanValue(v any, path string) *Hit {
	switch t := v.(type) {
	case *object:
		for i, k := range t.keys {
			childPath := path + "." + k
			if _, forbidden := Keys[k]; forbidden {
				return &Hit{Key: k, Path: childPath}
			}
			if hit := scanValue(t.vals[i], childPath); hit != nil {
				return hit
			}
		}
	case []any:
		for i, e := range t {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			if hit := scanValue(e, childPath); hit != nil {
				return hit
			}
		}
	}
	return nil
}

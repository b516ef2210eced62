package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// CacheKey identifies a cacheable upstream call.
type CacheKey struct {
	// Method is the HTTP method (e.g., "GET")
	Method string

	// URL is the absolute upstream URL, optionally with a query string
	URL string

	// Params is the parameter document (query params for GET, body for POST)
	Params any
}

// String generates a deterministic cache key string.
// Format: METHOD:url[:paramhash], paramhash being the hex sha256 of the
// canonical params.
//
// Query keys in URL are sorted and Params is canonicalized (object keys
// sorted at every depth), so two calls that differ only in key order share
// a key. Empty params contribute nothing.
//
// Example:
//
//	GET:https://users.example.com/v1/users/1
//	GET:https://badges.example.com/v1/badges:3f1c2a9e0b7d4c55e81a6b02f4d93c7a5e0b18d6c2f7a94e31d05b8c6a7e2f19
func (k CacheKey) String() string {
	parts := []string{strings.ToUpper(k.Method), normalizeURL(k.URL)}

	if canonical := canonicalParams(k.Params); canonical != nil {
		sum := sha256.Sum256(canonical)
		parts = append(parts, hex.EncodeToString(sum[:]))
	}

	return strings.Join(parts, ":")
}

// normalizeURL sorts the query string so "?b=2&a=1" and "?a=1&b=2" match.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	u.RawQuery = u.Query().Encode()
	return u.String()
}

// canonicalParams returns the canonical JSON encoding of params, or nil when
// params are absent or empty.
//
// The value is round-tripped through a generic decode: encoding/json writes
// map keys in sorted order, which also normalizes raw JSON documents and
// structs whose field order differs.
func canonicalParams(params any) []byte {
	if params == nil {
		return nil
	}

	var raw []byte
	switch p := params.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return []byte(fmt.Sprintf("%#v", p))
		}
		raw = b
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return raw
	}

	switch g := generic.(type) {
	case nil:
		return nil
	case map[string]any:
		if len(g) == 0 {
			return nil
		}
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return raw
	}
	return canonical
}

package client

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Sternrassler/upstream-gateway/pkg/cache"
)

// Method is an upstream HTTP method.
type Method string

const (
	// MethodGet is an idempotent read
	MethodGet Method = "GET"

	// MethodPost sends Body as JSON
	MethodPost Method = "POST"
)

// CallSpec describes one upstream call.
type CallSpec struct {
	// Name identifies the call inside an aggregation
	Name string

	// Method is GET or POST (empty means GET)
	Method Method

	// URL is the absolute upstream URL
	URL string

	// Params are encoded as query parameters. nil values and empty
	// strings are omitted, slices repeat the key.
	Params map[string]any

	// Body is JSON encoded as the request body (POST)
	Body any

	// Cacheable marks the call as idempotent and eligible for reuse
	Cacheable bool
}

// method returns the effective method.
func (s CallSpec) method() Method {
	if s.Method == "" {
		return MethodGet
	}
	return Method(strings.ToUpper(string(s.Method)))
}

// CacheKey derives the cache key for the call.
// GET keys use the effective query params, POST keys use the body.
func (s CallSpec) CacheKey() cache.CacheKey {
	key := cache.CacheKey{
		Method: string(s.method()),
		URL:    s.URL,
	}

	if s.method() == MethodPost {
		key.Params = s.Body
		return key
	}

	if params := s.effectiveParams(); len(params) > 0 {
		key.Params = params
	}
	return key
}

// effectiveParams drops the params that would not reach the wire.
func (s CallSpec) effectiveParams() map[string]any {
	if len(s.Params) == 0 {
		return nil
	}

	out := make(map[string]any, len(s.Params))
	for k, v := range s.Params {
		if omitParam(v) {
			continue
		}
		out[k] = v
	}
	return out
}

// requestURL merges Params into the URL query string.
func (s CallSpec) requestURL() (string, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("url must be absolute: %q", s.URL)
	}

	params := s.effectiveParams()
	if len(params) == 0 {
		return u.String(), nil
	}

	query := u.Query()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := params[k].(type) {
		case []string:
			for _, item := range v {
				query.Add(k, item)
			}
		case []any:
			for _, item := range v {
				query.Add(k, fmt.Sprint(item))
			}
		default:
			query.Set(k, fmt.Sprint(v))
		}
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}

func omitParam(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	default:
		return false
	}
}

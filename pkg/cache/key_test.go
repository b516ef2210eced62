package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "no params",
			key: CacheKey{
				Method: "GET",
				URL:    "https://users.example.com/v1/users/1",
			},
			want: "GET:https://users.example.com/v1/users/1",
		},
		{
			name: "lowercase method normalized",
			key: CacheKey{
				Method: "get",
				URL:    "https://users.example.com/v1/users/1",
			},
			want: "GET:https://users.example.com/v1/users/1",
		},
		{
			name: "empty params map contributes nothing",
			key: CacheKey{
				Method: "GET",
				URL:    "https://users.example.com/v1/users/1",
				Params: map[string]any{},
			},
			want: "GET:https://users.example.com/v1/users/1",
		},
		{
			name: "url query sorted",
			key: CacheKey{
				Method: "GET",
				URL:    "https://badges.example.com/v1/users/1/badges?sortOrder=Desc&limit=10",
			},
			want: "GET:https://badges.example.com/v1/users/1/badges?limit=10&sortOrder=Desc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.key.String()
			if got != tt.want {
				t.Errorf("CacheKey.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheKey_ParamsHashIsFullDigest(t *testing.T) {
	key := CacheKey{
		Method: "GET",
		URL:    "https://badges.example.com/v1/badges",
		Params: map[string]any{"limit": 10},
	}

	sum := sha256.Sum256([]byte(`{"limit":10}`))
	want := "GET:https://badges.example.com/v1/badges:" + hex.EncodeToString(sum[:])

	if got := key.String(); got != want {
		t.Errorf("CacheKey.String() = %v, want %v", got, want)
	}

	_, hash, _ := strings.Cut(strings.TrimPrefix(key.String(), "GET:https:"), ":")
	if len(hash) != 64 {
		t.Errorf("params hash length = %d, want 64 hex characters", len(hash))
	}
}

func TestCacheKey_ParamOrderIndependence(t *testing.T) {
	base := CacheKey{Method: "GET", URL: "https://games.example.com/v1/games"}

	variants := []any{
		map[string]any{"limit": 100, "sortOrder": "Asc", "filter": map[string]any{"a": 1, "b": 2}},
		map[string]any{"filter": map[string]any{"b": 2, "a": 1}, "sortOrder": "Asc", "limit": 100},
		json.RawMessage(`{"sortOrder":"Asc","filter":{"b":2,"a":1},"limit":100}`),
		[]byte(`{"limit":100,"filter":{"a":1,"b":2},"sortOrder":"Asc"}`),
	}

	var first string
	for i, params := range variants {
		k := base
		k.Params = params
		got := k.String()
		if i == 0 {
			first = got
			continue
		}
		if got != first {
			t.Errorf("variant %d key = %q, want %q", i, got, first)
		}
	}

	if !strings.HasPrefix(first, "GET:https://games.example.com/v1/games:") {
		t.Errorf("key %q missing param hash suffix", first)
	}
}

func TestCacheKey_DistinguishesIdentity(t *testing.T) {
	keys := []CacheKey{
		{Method: "GET", URL: "https://a.example.com/x"},
		{Method: "POST", URL: "https://a.example.com/x"},
		{Method: "GET", URL: "https://a.example.com/y"},
		{Method: "GET", URL: "https://a.example.com/x", Params: map[string]any{"limit": 10}},
		{Method: "GET", URL: "https://a.example.com/x", Params: map[string]any{"limit": 11}},
		{Method: "GET", URL: "https://a.example.com/x", Params: map[string]any{"limit": "10"}},
	}

	seen := make(map[string]int)
	for i, k := range keys {
		s := k.String()
		if j, dup := seen[s]; dup {
			t.Errorf("keys %d and %d collide: %q", j, i, s)
		}
		seen[s] = i
	}
}

// TestCacheKey_Determinism ensures same input always produces same key
func TestCacheKey_Determinism(t *testing.T) {
	key := CacheKey{
		Method: "POST",
		URL:    "https://presence.example.com/v1/presence/users",
		Params: map[string]any{"userIds": []any{1, 2, 3}, "z": true, "a": nil},
	}

	first := key.String()
	for i := 0; i < 10; i++ {
		if got := key.String(); got != first {
			t.Errorf("result[%d] = %v, want %v (not deterministic)", i, got, first)
		}
	}
}

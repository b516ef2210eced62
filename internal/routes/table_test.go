package routes

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/Sternrassler/upstream-gateway/pkg/aggregate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultTable(t *testing.T) {
	table, err := Load("")
	require.NoError(t, err)

	assert.Len(t, table.Routes, 21)
	assert.Equal(t, "https://users.roblox.com", table.Vars["users"])

	byName := make(map[string]*Route, len(table.Routes))
	for _, route := range table.Routes {
		byName[route.Name] = route
	}

	complete := byName["user_complete"]
	require.NotNil(t, complete)
	assert.Equal(t, aggregate.AllOrNothing, complete.policy())
	assert.Len(t, complete.Calls, 6)

	owned := byName["gamepasses_owned"]
	require.NotNil(t, owned)
	assert.Equal(t, aggregate.BestEffort, owned.policy())
	require.NotNil(t, owned.Each)
	assert.Equal(t, "pass_", owned.Each.Prefix)

	game := byName["game"]
	require.NotNil(t, game)
	require.NotNil(t, game.Resolve)
	assert.Equal(t, "universeId", game.Resolve.Extract["universeId"])
	assert.Equal(t, http.MethodGet, game.method())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routes:
  - name: ping
    path: /ping
    unwrap: true
    retry:
      max_attempts: 3
      initial_backoff: 50ms
    calls:
      - name: ping
        url: "https://example.com/ping"
`), 0o600))

	table, err := Load(path)
	require.NoError(t, err)
	require.Len(t, table.Routes, 1)

	retry := table.Routes[0].retry()
	assert.Equal(t, 3, retry.MaxAttempts)
	assert.Equal(t, "50ms", retry.InitialBackoff.String())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "empty table",
			yaml: `routes: []`,
		},
		{
			name: "unknown field",
			yaml: `
routes:
  - name: a
    path: /a
    timeout: 5s
    calls: [{name: a, url: "https://example.com"}]
`,
		},
		{
			name: "path without slash",
			yaml: `
routes:
  - name: a
    path: a
    calls: [{name: a, url: "https://example.com"}]
`,
		},
		{
			name: "unknown policy",
			yaml: `
routes:
  - name: a
    path: /a
    policy: fastest
    calls: [{name: a, url: "https://example.com"}]
`,
		},
		{
			name: "duplicate route names",
			yaml: `
routes:
  - name: a
    path: /a
    calls: [{name: a, url: "https://example.com"}]
  - name: a
    path: /b
    calls: [{name: a, url: "https://example.com"}]
`,
		},
		{
			name: "duplicate call names",
			yaml: `
routes:
  - name: a
    path: /a
    calls:
      - {name: x, url: "https://example.com/1"}
      - {name: x, url: "https://example.com/2"}
`,
		},
		{
			name: "unwrap with two calls",
			yaml: `
routes:
  - name: a
    path: /a
    unwrap: true
    calls:
      - {name: x, url: "https://example.com/1"}
      - {name: y, url: "https://example.com/2"}
`,
		},
		{
			name: "no calls",
			yaml: `
routes:
  - name: a
    path: /a
`,
		},
		{
			name: "call without url",
			yaml: `
routes:
  - name: a
    path: /a
    calls: [{name: a}]
`,
		},
		{
			name: "each without prefix",
			yaml: `
routes:
  - name: a
    path: /a
    each:
      list: {name: list, url: "https://example.com/list"}
      items: data
      var: id
      call: {url: "https://example.com/{id}"}
`,
		},
		{
			name: "resolve without extract",
			yaml: `
routes:
  - name: a
    path: /a
    resolve:
      call: {name: r, url: "https://example.com/r"}
    calls: [{name: a, url: "https://example.com"}]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

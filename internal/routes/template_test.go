package routes

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() *scope {
	return newScope(
		map[string]string{"users": "https://users.example.com"},
		map[string]string{"id": "42", "name": "a b/c"},
		url.Values{"size": {"150x150"}, "circular": {"true"}, "ids": {"1, 2,,3"}},
	)
}

func TestRenderString(t *testing.T) {
	sc := testScope()

	tests := []struct {
		name     string
		tmpl     string
		escape   bool
		expected any
	}{
		{"literal", "Png", false, "Png"},
		{"path var", "{id}", false, "42"},
		{"const and var", "{users}/v1/users/{id}", true, "https://users.example.com/v1/users/42"},
		{"escaped var", "{users}/v1/usernames/{name}", true, "https://users.example.com/v1/usernames/a%20b%2Fc"},
		{"query value", "{query.size|720x720}", false, "150x150"},
		{"query default", "{query.format|Png}", false, "Png"},
		{"missing query", "{query.cursor}", false, ""},
		{"int", "{id:int}", false, int64(42)},
		{"bool", "{query.circular:bool}", false, true},
		{"missing bool", "{query.other:bool}", false, false},
		{"csv", "{query.ids:csv}", false, []string{"1", "2", "3"}},
		{"embedded typed placeholder stays text", "id={id:int}", false, "id=42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sc.renderString(tt.tmpl, tt.escape)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRenderString_BadInt(t *testing.T) {
	sc := newScope(nil, map[string]string{"id": "abc"}, nil)

	_, err := sc.renderString("{id:int}", false)
	assert.ErrorIs(t, err, ErrBadInput)

	_, err = sc.renderString("https://example.com/{id:int}", true)
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestRender_Nested(t *testing.T) {
	sc := testScope()

	got, err := sc.render(map[string]any{
		"userIds": []any{"{id:int}"},
		"exclude": false,
		"meta":    map[string]any{"size": "{query.size}"},
	})
	require.NoError(t, err)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"userIds":[42],"exclude":false,"meta":{"size":"150x150"}}`, string(data))
}

func TestScope_With(t *testing.T) {
	base := testScope()
	child := base.with("gamePassId", "7")

	v, _ := child.lookup("gamePassId")
	assert.Equal(t, "7", v)

	v, _ = base.lookup("gamePassId")
	assert.Empty(t, v, "with must not modify the parent scope")
}

func TestScope_Missing(t *testing.T) {
	sc := testScope()
	assert.Equal(t, "", sc.missing([]string{"id", "query.size"}))
	assert.Equal(t, "query.badgeIds", sc.missing([]string{"id", "query.badgeIds"}))
}

func TestPick(t *testing.T) {
	doc := json.RawMessage(`{"data":[{"id":1,"name":"a"},{"id":2}],"userPresences":[],"total":12345678901234}`)

	tests := []struct {
		path     string
		expected string
	}{
		{"", string(doc)},
		{"data.0.name", `"a"`},
		{"data.1", `{"id":2}`},
		{"data.5", `null`},
		{"userPresences.0", `null`},
		{"missing.deep.path", `null`},
		{"total", `12345678901234`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := pick(doc, tt.path)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(got))
		})
	}
}

func TestField(t *testing.T) {
	doc := json.RawMessage(`{"universeId":4924922222,"name":"obby","public":true,"nested":{"a":1},"none":null}`)

	v, ok := field(doc, "universeId")
	assert.True(t, ok)
	assert.Equal(t, "4924922222", v)

	v, ok = field(doc, "name")
	assert.True(t, ok)
	assert.Equal(t, "obby", v)

	v, ok = field(doc, "public")
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	_, ok = field(doc, "none")
	assert.False(t, ok)

	_, ok = field(doc, "absent")
	assert.False(t, ok)
}

func TestItems(t *testing.T) {
	list, err := items(json.RawMessage(`{"data":[{"id":1},{"id":2}]}`), "data")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = items(json.RawMessage(`{"other":1}`), "data")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = items(json.RawMessage(`{"data":"nope"}`), "data")
	assert.Error(t, err)
}

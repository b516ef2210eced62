package routes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/Sternrassler/upstream-gateway/pkg/client"
)

// ErrBadInput marks inbound values that cannot be rendered into a call.
var ErrBadInput = errors.New("invalid input")

// placeholder matches {name}, {name:type}, {name|default} and {name:type|default}.
var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

const queryPrefix = "query."

// scope resolves placeholder names for one inbound request.
type scope struct {
	// consts are table variables, inserted verbatim
	consts map[string]string

	// vars come from the path, resolve steps and each items
	vars map[string]string

	query url.Values
}

func newScope(consts, pathVars map[string]string, query url.Values) *scope {
	vars := make(map[string]string, len(pathVars))
	for k, v := range pathVars {
		vars[k] = v
	}
	return &scope{consts: consts, vars: vars, query: query}
}

// with returns a copy of s with one more variable.
func (s *scope) with(name, value string) *scope {
	vars := make(map[string]string, len(s.vars)+1)
	for k, v := range s.vars {
		vars[k] = v
	}
	vars[name] = value
	return &scope{consts: s.consts, vars: vars, query: s.query}
}

// lookup returns the value of name and whether it came from the table.
func (s *scope) lookup(name string) (value string, constant bool) {
	if q, ok := strings.CutPrefix(name, queryPrefix); ok {
		return s.query.Get(q), false
	}
	if v, ok := s.vars[name]; ok {
		return v, false
	}
	return s.consts[name], true
}

// missing returns the first required name that resolves to empty.
func (s *scope) missing(required []string) string {
	for _, name := range required {
		if v, _ := s.lookup(name); v == "" {
			return name
		}
	}
	return ""
}

type placeholderSpec struct {
	name     string
	typ      string
	fallback string
}

func parsePlaceholder(inner string) placeholderSpec {
	var p placeholderSpec

	spec, fallback, _ := strings.Cut(inner, "|")
	p.fallback = fallback

	p.name = strings.TrimSpace(spec)
	if i := strings.LastIndex(p.name, ":"); i >= 0 {
		switch typ := p.name[i+1:]; typ {
		case "int", "bool", "csv":
			p.typ = typ
			p.name = p.name[:i]
		}
	}
	return p
}

func (s *scope) value(p placeholderSpec) (string, bool) {
	v, constant := s.lookup(p.name)
	if v == "" {
		return p.fallback, false
	}
	return v, constant
}

// typed converts a whole-value placeholder.
func typed(p placeholderSpec, v string) (any, error) {
	switch p.typ {
	case "int":
		if v == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an integer (got %q)", ErrBadInput, p.name, v)
		}
		return n, nil
	case "bool":
		return strings.EqualFold(v, "true"), nil
	case "csv":
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			return nil, nil
		}
		return items, nil
	default:
		return v, nil
	}
}

// renderString expands tmpl. A string consisting of exactly one placeholder
// yields its typed value; otherwise placeholders are substituted as text.
// With escape set, request-derived values are path-escaped.
func (s *scope) renderString(tmpl string, escape bool) (any, error) {
	matches := placeholder.FindAllStringSubmatchIndex(tmpl, -1)
	if len(matches) == 0 {
		return tmpl, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(tmpl) && !escape {
		p := parsePlaceholder(tmpl[matches[0][2]:matches[0][3]])
		v, _ := s.value(p)
		return typed(p, v)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(tmpl[last:m[0]])
		p := parsePlaceholder(tmpl[m[2]:m[3]])
		v, constant := s.value(p)
		if p.typ == "int" && v != "" {
			if _, err := typed(p, v); err != nil {
				return nil, err
			}
		}
		if escape && !constant {
			v = url.PathEscape(v)
		}
		b.WriteString(v)
		last = m[1]
	}
	b.WriteString(tmpl[last:])
	return b.String(), nil
}

// render walks a YAML-decoded value and expands every string.
func (s *scope) render(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return s.renderString(val, false)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := s.render(item)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			r, err := s.render(item)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, nil
	default:
		return v, nil
	}
}

// spec renders a call template into a client.CallSpec.
func (s *scope) spec(name string, t CallTemplate) (client.CallSpec, error) {
	rawURL, err := s.renderString(t.URL, true)
	if err != nil {
		return client.CallSpec{}, err
	}

	spec := client.CallSpec{
		Name:      name,
		Method:    client.Method(strings.ToUpper(t.Method)),
		URL:       rawURL.(string),
		Cacheable: t.Cacheable,
	}

	if len(t.Params) > 0 {
		params, err := s.render(map[string]any(t.Params))
		if err != nil {
			return client.CallSpec{}, err
		}
		spec.Params = params.(map[string]any)
	}

	if t.Body != nil {
		body, err := s.render(t.Body)
		if err != nil {
			return client.CallSpec{}, err
		}
		spec.Body = body
	}

	return spec, nil
}

// pick extracts a dotted path (object keys and array indexes) from doc.
// Missing paths yield null.
func pick(doc json.RawMessage, path string) (json.RawMessage, error) {
	if path == "" {
		return doc, nil
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	for _, part := range strings.Split(path, ".") {
		switch node := v.(type) {
		case map[string]any:
			v = node[part]
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				v = nil
				continue
			}
			v = node[i]
		default:
			v = nil
		}
	}

	return json.Marshal(v)
}

// field returns a picked scalar as a variable value.
func field(doc json.RawMessage, path string) (string, bool) {
	raw, err := pick(doc, path)
	if err != nil {
		return "", false
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil || v == nil {
		return "", false
	}

	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return string(raw), true
	}
}

// items returns the array at path inside doc.
func items(doc json.RawMessage, path string) ([]json.RawMessage, error) {
	raw, err := pick(doc, path)
	if err != nil {
		return nil, err
	}

	var list []json.RawMessage
	if string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%s is not an array", path)
	}
	return list, nil
}

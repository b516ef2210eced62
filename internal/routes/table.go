// Package routes turns a declarative route table into HTTP handlers.
//
// Each route maps an inbound path onto a list of upstream call templates
// and a failure policy. Handlers render the templates from path variables
// and query parameters, run the calls through the aggregation orchestrator
// and write the assembled document.
package routes

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/upstream-gateway/pkg/aggregate"
	"github.com/Sternrassler/upstream-gateway/pkg/client"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default_routes.yaml
var defaultTable []byte

// ErrInvalidTable is returned for route tables that fail validation.
var ErrInvalidTable = errors.New("invalid route table")

// Table is a parsed route table.
type Table struct {
	// Vars are constants available to every template, e.g. upstream base URLs
	Vars map[string]string `yaml:"vars"`

	Routes []*Route `yaml:"routes" validate:"required,min=1,dive,required"`
}

// Route describes one inbound endpoint.
type Route struct {
	Name string `yaml:"name" validate:"required"`

	// Path is a gorilla/mux pattern, e.g. /roblox/user/{id:[0-9]+}
	Path string `yaml:"path" validate:"required,startswith=/"`

	// Method is the inbound method (default GET)
	Method string `yaml:"method" validate:"omitempty,oneof=GET POST"`

	// Policy is all_or_nothing (default) or best_effort
	Policy string `yaml:"policy" validate:"omitempty,oneof=all_or_nothing best_effort"`

	// Required lists variables that must be non-empty, e.g. query.badgeIds
	Required []string `yaml:"required"`

	// Resolve runs before Calls and extracts variables from its document
	Resolve *ResolveStep `yaml:"resolve"`

	// Each expands a list document into one call per item
	Each *EachStep `yaml:"each"`

	Calls []CallTemplate `yaml:"calls" validate:"dive"`

	// Unwrap writes the single call's value instead of a named object
	Unwrap bool `yaml:"unwrap"`

	// NotFoundOnNull answers 404 when the unwrapped value is null
	NotFoundOnNull bool `yaml:"not_found_on_null"`

	// Expose copies variables into the response document
	Expose []string `yaml:"expose"`

	Retry *RetrySpec `yaml:"retry"`
}

// CallTemplate is an upstream call with placeholders.
type CallTemplate struct {
	// Name is required except for each.call, whose names are generated
	Name      string         `yaml:"name"`
	Method    string         `yaml:"method" validate:"omitempty,oneof=GET POST"`
	URL       string         `yaml:"url" validate:"required"`
	Params    map[string]any `yaml:"params"`
	Body      any            `yaml:"body"`
	Cacheable bool           `yaml:"cacheable"`

	// Pick selects part of the document by dotted path, e.g. data.0
	Pick string `yaml:"pick"`
}

// ResolveStep is a preliminary call whose top-level fields become variables.
type ResolveStep struct {
	Call CallTemplate `yaml:"call"`

	// Extract maps variable name to top-level field name
	Extract map[string]string `yaml:"extract" validate:"required,min=1"`
}

// EachStep fans a list out into per-item calls.
type EachStep struct {
	// List is the call returning the items; its value is part of the response
	List CallTemplate `yaml:"list"`

	// Items is the dotted path of the array inside the list document
	Items string `yaml:"items" validate:"required"`

	// Key is the item field used as id (default id)
	Key string `yaml:"key"`

	// Var is the variable holding the id inside Call
	Var string `yaml:"var" validate:"required"`

	// Prefix is prepended to the id to name each call
	Prefix string `yaml:"prefix" validate:"required"`

	Call CallTemplate `yaml:"call"`
}

// RetrySpec configures caller-side retries for a route.
type RetrySpec struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"min=1,max=10"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Load reads the table at path, or the embedded default table when path
// is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Parse(defaultTable)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route table: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML route table.
func Parse(data []byte) (*Table, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var table Table
	if err := dec.Decode(&table); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidTable, err)
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (t *Table) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}

	names := make(map[string]struct{}, len(t.Routes))
	for _, route := range t.Routes {
		if _, dup := names[route.Name]; dup {
			return fmt.Errorf("%w: duplicate route name %q", ErrInvalidTable, route.Name)
		}
		names[route.Name] = struct{}{}

		if err := route.validate(); err != nil {
			return fmt.Errorf("%w: route %q: %v", ErrInvalidTable, route.Name, err)
		}
	}
	return nil
}

func (r *Route) validate() error {
	if len(r.Calls) == 0 && r.Each == nil {
		return errors.New("route needs calls or an each step")
	}

	if r.Unwrap && (len(r.Calls) != 1 || r.Each != nil) {
		return errors.New("unwrap requires exactly one call and no each step")
	}
	if r.NotFoundOnNull && !r.Unwrap {
		return errors.New("not_found_on_null requires unwrap")
	}

	if r.Resolve != nil && r.Resolve.Call.Name == "" {
		return errors.New("resolve call has no name")
	}
	if r.Each != nil && r.Each.List.Name == "" {
		return errors.New("each list call has no name")
	}

	seen := make(map[string]struct{}, len(r.Calls)+1)
	for _, call := range r.Calls {
		if call.Name == "" {
			return errors.New("call has no name")
		}
		if _, dup := seen[call.Name]; dup {
			return fmt.Errorf("duplicate call name %q", call.Name)
		}
		seen[call.Name] = struct{}{}
	}

	if r.Each != nil {
		if _, dup := seen[r.Each.List.Name]; dup {
			return fmt.Errorf("each list name %q collides with a call", r.Each.List.Name)
		}
		for name := range seen {
			if strings.HasPrefix(name, r.Each.Prefix) {
				return fmt.Errorf("call name %q collides with each prefix %q", name, r.Each.Prefix)
			}
		}
		if strings.HasPrefix(r.Each.List.Name, r.Each.Prefix) {
			return fmt.Errorf("each list name %q collides with each prefix %q", r.Each.List.Name, r.Each.Prefix)
		}
	}

	for _, name := range r.Expose {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("exposed variable %q collides with a call", name)
		}
	}

	return nil
}

// method returns the inbound method.
func (r *Route) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// policy returns the aggregation policy.
func (r *Route) policy() aggregate.Policy {
	if r.Policy == "" {
		return aggregate.AllOrNothing
	}
	return aggregate.Policy(r.Policy)
}

// retry returns the caller-side retry configuration (disabled by default).
func (r *Route) retry() client.RetryConfig {
	if r.Retry == nil {
		return client.RetryConfig{MaxAttempts: 1}
	}

	cfg := client.DefaultRetryConfig()
	cfg.MaxAttempts = r.Retry.MaxAttempts
	if r.Retry.InitialBackoff > 0 {
		cfg.InitialBackoff = r.Retry.InitialBackoff
	}
	if r.Retry.MaxBackoff > 0 {
		cfg.MaxBackoff = r.Retry.MaxBackoff
	}
	return cfg
}

// SetVar overrides a table constant.
func (t *Table) SetVar(name, value string) {
	if t.Vars == nil {
		t.Vars = make(map[string]string)
	}
	t.Vars[name] = value
}

package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/upstream-gateway/pkg/aggregate"
	"github.com/Sternrassler/upstream-gateway/pkg/client"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// errResolve marks documents that lack the fields a route depends on.
var errResolve = errors.New("unexpected upstream document")

// Handler serves the routes of a table.
type Handler struct {
	table  *Table
	orch   *aggregate.Orchestrator
	logger zerolog.Logger
}

// NewHandler creates a handler for table.
func NewHandler(table *Table, orch *aggregate.Orchestrator, logger zerolog.Logger) *Handler {
	return &Handler{
		table:  table,
		orch:   orch,
		logger: logger,
	}
}

// Register adds every route to r.
func (h *Handler) Register(r *mux.Router) {
	for _, route := range h.table.Routes {
		r.Handle(route.Path, h.serve(route)).
			Methods(route.method()).
			Name(route.Name)

		h.logger.Debug().
			Str("route", route.Name).
			Str("path", route.Path).
			Str("policy", string(route.policy())).
			Msg("Registered route")
	}
}

func (h *Handler) serve(route *Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, status, err := h.run(r.Context(), route, newScope(h.table.Vars, mux.Vars(r), r.URL.Query()))
		if err != nil {
			h.writeError(w, route, err)
			return
		}
		writeJSON(w, status, doc)
	}
}

// run executes route and returns the response document.
func (h *Handler) run(ctx context.Context, route *Route, sc *scope) (json.RawMessage, int, error) {
	if name := sc.missing(route.Required); name != "" {
		return nil, 0, fmt.Errorf("%w: %s is required", ErrBadInput, name)
	}

	if route.Resolve != nil {
		if err := h.resolve(ctx, route, sc); err != nil {
			return nil, 0, err
		}
	}

	calls := make([]client.CallSpec, 0, len(route.Calls))
	picks := make(map[string]string, len(route.Calls))
	for _, t := range route.Calls {
		spec, err := sc.spec(t.Name, t)
		if err != nil {
			return nil, 0, err
		}
		calls = append(calls, spec)
		picks[t.Name] = t.Pick
	}

	var listDoc json.RawMessage
	if route.Each != nil {
		doc, itemCalls, err := h.expand(ctx, route, sc)
		if err != nil {
			return nil, 0, err
		}
		listDoc = doc
		for _, spec := range itemCalls {
			calls = append(calls, spec)
			picks[spec.Name] = route.Each.Call.Pick
		}
	}

	result, err := h.orch.Run(ctx, aggregate.Request{
		Calls:  calls,
		Policy: route.policy(),
		Retry:  route.retry(),
	})
	if err != nil {
		return nil, 0, err
	}

	if route.Unwrap {
		name := route.Calls[0].Name
		outcome := result.Outcomes[name]
		if !outcome.OK() {
			return nil, 0, outcome.Err
		}
		value, err := pick(outcome.Value, picks[name])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %s: %v", errResolve, name, err)
		}
		if route.NotFoundOnNull && string(value) == "null" {
			return json.RawMessage(`{"error":"not_found"}`), http.StatusNotFound, nil
		}
		return value, http.StatusOK, nil
	}

	out := make(map[string]json.RawMessage, len(result.Outcomes)+len(route.Expose)+1)
	for name, outcome := range result.Outcomes {
		if !outcome.OK() {
			marker, err := json.Marshal(outcome)
			if err != nil {
				return nil, 0, err
			}
			out[name] = marker
			continue
		}
		value, err := pick(outcome.Value, picks[name])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %s: %v", errResolve, name, err)
		}
		out[name] = value
	}
	if route.Each != nil {
		out[route.Each.List.Name] = listDoc
	}
	for _, name := range route.Expose {
		v, _ := sc.lookup(name)
		encoded, _ := json.Marshal(v)
		out[name] = encoded
	}

	doc, err := json.Marshal(out)
	if err != nil {
		return nil, 0, err
	}
	return doc, http.StatusOK, nil
}

// single runs one call as an all-or-nothing aggregation.
func (h *Handler) single(ctx context.Context, route *Route, spec client.CallSpec) (json.RawMessage, error) {
	result, err := h.orch.Run(ctx, aggregate.Request{
		Calls:  []client.CallSpec{spec},
		Policy: aggregate.AllOrNothing,
		Retry:  route.retry(),
	})
	if err != nil {
		return nil, err
	}
	value, _ := result.Value(spec.Name)
	return value, nil
}

// resolve runs the resolve step and stores the extracted variables in sc.
func (h *Handler) resolve(ctx context.Context, route *Route, sc *scope) error {
	step := route.Resolve

	spec, err := sc.spec(step.Call.Name, step.Call)
	if err != nil {
		return err
	}

	doc, err := h.single(ctx, route, spec)
	if err != nil {
		return err
	}

	for name, path := range step.Extract {
		v, ok := field(doc, path)
		if !ok {
			return fmt.Errorf("%w: %s has no field %q", errResolve, step.Call.Name, path)
		}
		sc.vars[name] = v
	}
	return nil
}

// expand runs the each list call and builds one call per item.
func (h *Handler) expand(ctx context.Context, route *Route, sc *scope) (json.RawMessage, []client.CallSpec, error) {
	step := route.Each

	spec, err := sc.spec(step.List.Name, step.List)
	if err != nil {
		return nil, nil, err
	}

	doc, err := h.single(ctx, route, spec)
	if err != nil {
		return nil, nil, err
	}

	list, err := items(doc, step.Items)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", errResolve, step.List.Name, err)
	}

	key := step.Key
	if key == "" {
		key = "id"
	}

	listDoc, err := pick(doc, step.List.Pick)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", errResolve, step.List.Name, err)
	}

	seen := make(map[string]struct{}, len(list))
	calls := make([]client.CallSpec, 0, len(list))
	for _, item := range list {
		id, ok := field(item, key)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s item has no field %q", errResolve, step.List.Name, key)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		itemSpec, err := sc.with(step.Var, id).spec(step.Prefix+id, step.Call)
		if err != nil {
			return nil, nil, err
		}
		calls = append(calls, itemSpec)
	}

	return listDoc, calls, nil
}

// writeError maps failures onto HTTP responses:
// bad input 400, upstream timeout 504, other upstream failures 502.
func (h *Handler) writeError(w http.ResponseWriter, route *Route, err error) {
	var (
		ue      *client.UpstreamError
		failure *aggregate.Failure
	)

	switch {
	case errors.Is(err, ErrBadInput), errors.Is(err, aggregate.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.As(err, &ue):
		status := http.StatusBadGateway
		if ue.Kind == client.KindTimeout {
			status = http.StatusGatewayTimeout
		}

		body := map[string]any{"error": ue.Payload()}
		if errors.As(err, &failure) {
			body["call"] = failure.Call
		}

		h.logger.Warn().
			Err(err).
			Str("route", route.Name).
			Int("status", status).
			Msg("Route failed")

		data, _ := json.Marshal(body)
		writeJSON(w, status, data)

	case errors.Is(err, errResolve):
		h.logger.Warn().Err(err).Str("route", route.Name).Msg("Route failed")
		writeError(w, http.StatusBadGateway, err.Error())

	default:
		h.logger.Error().Err(err).Str("route", route.Name).Msg("Route failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	data, _ := json.Marshal(map[string]string{"error": message})
	writeJSON(w, status, data)
}

func writeJSON(w http.ResponseWriter, status int, doc json.RawMessage) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(doc)
}

// Package aggregate fans a set of named upstream calls out concurrently and
// assembles their outcomes by name.
//
// Two failure policies are supported:
//
//   - AllOrNothing: any failing call fails the whole aggregation with a
//     *Failure carrying the first failure by completion order. Remaining
//     calls are cancelled; calls that already succeeded stay cached.
//   - BestEffort: every call runs to completion and its value or failure
//     marker is kept under its name.
//
// Example usage:
//
//	orch := aggregate.New(upstream, aggregate.Config{}, logger)
//	result, err := orch.Run(ctx, aggregate.Request{
//		Policy: aggregate.BestEffort,
//		Calls: []client.CallSpec{
//			{Name: "user", URL: "https://users.example.com/v1/users/1", Cacheable: true},
//			{Name: "badges", URL: "https://badges.example.com/v1/users/1/badges", Cacheable: true},
//		},
//	})
//
// Results are keyed by call name, never by position, so completion order
// does not affect the assembled document.
//
// Metrics:
//   - gateway_aggregations_total{policy,outcome}
//   - gateway_aggregation_duration_seconds{policy}
//   - gateway_subcall_failures_total{policy}
package aggregate

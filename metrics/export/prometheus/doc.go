// Package prometheus exposes goBankAuth counters as a prometheus.Collector.
//
// Counter names are prefixed bankauth_ and end in _total; the request
// latency histogram is bankauth_request_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry; callers choose the registry
//     or mount Handler.
//   - Mutate session state.
package prometheus

// Package otel publishes goBankAuth metrics through OpenTelemetry observable
// instruments: one Int64ObservableCounter per counter and one
// Int64ObservableGauge per latency bucket.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate session state.
package otel

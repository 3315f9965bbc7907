/*
Package metrics defines and registers the framework's Prometheus
metrics: bundle counts by state, dispatcher queue depth, registry
size, tracker re-election counts, and the remote event provider's
outbound queue depth, sync-event latency, and remote-framework count.

Metrics are package-level vars registered at init(), following the
same global-registry, no-runtime-registration convention as every
other Prometheus-instrumented package in this codebase. Handler()
returns the promhttp handler cmd/celixd mounts at /metrics.
*/
package metrics

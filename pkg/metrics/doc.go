/*
Package metrics exposes Prometheus instrumentation for the dispatch engine:
task queue/completion counters, per-pool worker gauges, and blobstore
hit/miss/generation counters. Metrics use the default registry; the CLI
optionally serves them when --metrics-addr is set.
*/
package metrics

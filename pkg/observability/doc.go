/*
Package observability exposes the engine's activity as Prometheus metrics.

Metrics subscribes to the event bus and turns state changes, transition phases, resets,
gate edges, run outcomes and degraded-mode reports into counters, gauges and histograms.
*/
package observability

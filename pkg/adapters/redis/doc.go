// Package redis persists degraded-mode reports in a Redis list so QA tooling can
// inspect them after a session ends.
package redis

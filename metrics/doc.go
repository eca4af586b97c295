// Package metrics exposes Prometheus metrics for nodes.
package metrics

// Package metrics exposes Prometheus counters and gauges for the acceptor,
// the connection workers, the coordinator and the HTTP monitor.
package metrics

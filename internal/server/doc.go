// Package server implements the TCP acceptor that admits a fixed number of
// clients, the per-connection workers that feed received messages into the
// shared store, and the optional HTTP monitor exposing acceptor state and
// Prometheus metrics.
package server

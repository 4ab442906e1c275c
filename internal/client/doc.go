// Package client is a small load harness that connects to the collector and
// sends a fixed list of NUL-terminated messages.
package client

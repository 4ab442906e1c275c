// Package store holds the messages collected from every client connection.
// A single Store is shared by all connection workers and drained once by the
// coordinator after the workers have stopped.
package store

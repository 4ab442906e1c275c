// Package coordinator owns one collection run: it binds the listener, starts
// the acceptor, waits until the expected number of messages has been stored
// (or the run is cut short), tears everything down and reports what arrived.
package coordinator

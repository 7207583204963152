// Package agent owns the remote side of a tether session.
//
// Ownership boundary:
// - controller connection, handshake and hello
// - reconnect backoff
// - command dispatch loop
//
// The dispatch loop is single-threaded per session. Commands that must not
// block it start their own background work and return.
package agent

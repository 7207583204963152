// Package session owns controller<->agent session helpers.
//
// Ownership boundary:
// - reliability tunables (timeouts, keystream size, reconnect backoff)
// - identity hello exchanged after the channel handshake
// - platform codes
package session

// Package protocol groups the tether transport layers.
//
// Ownership boundary:
// - wire: length-prefixed primitive framing
// - channel: keystream-masked connections and their handshake
// - session: timeouts, backoff and the agent hello
package protocol

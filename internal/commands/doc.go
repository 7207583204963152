// Package commands holds the built-in double commands shared by the
// controller and agent binaries.
//
// Each command documents its framing next to its type. Agent halves report
// operation failures in-band with a status reply so the keystream stays in
// step; only transport errors end a command early.
package commands

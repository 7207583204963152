// Package controller owns the operator side of tether.
//
// Ownership boundary:
// - accepting agents into the endpoint set
// - endpoint liveness, selection and naming
// - fanning double commands out through runners
// - the operator console and its local commands
//
// Process isolation hands an established session to a worker process; the
// keystream cursors and the result cell live in shared memory so both sides
// agree on positions after the worker exits.
package controller

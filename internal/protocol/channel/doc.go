// Package channel owns the encrypted session transport between controller
// and agent.
//
// A session starts with a symmetric RSA exchange of random keystreams. After
// that every byte is XORed with the keystream at the direction's cursor,
// which advances by exactly the bytes transferred. Cursors can live in
// shared memory so a worker process can drive the same session.
package channel

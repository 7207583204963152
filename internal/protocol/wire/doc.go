// Package wire owns the primitive value codec used on every tether stream.
//
// Encoding (all multi-byte values big-endian):
// - STRING:  u64 byte length, then UTF-8 bytes
// - BYTES:   u64 byte length, then raw bytes
// - INTEGER: i64
// - FLOAT:   IEEE-754 binary64
// - BOOLEAN: one byte, 0xFF true, 0x00 false
//
// Every send issues exactly one Write. Every receive blocks until the full
// value arrived or the stream failed; failures wrap ErrConnection.
package wire

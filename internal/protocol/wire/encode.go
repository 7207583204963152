package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	LengthPrefixSize = 8
	IntegerSize      = 8
	FloatSize        = 8
	BooleanSize      = 1

	BoolTrue  byte = 0xFF
	BoolFalse byte = 0x00
)

// Limits constrains receive-side allocations.
type Limits struct {
	MaxBytes uint64
}

// DefaultLimits caps a single received blob at 64 MiB.
func DefaultLimits() Limits {
	return Limits{MaxBytes: 64 * 1024 * 1024}
}

// SendString writes s as an 8-byte big-endian length followed by its bytes.
func SendString(w io.Writer, s string) error {
	return writeAll(w, "send string", prefixed([]byte(s)))
}

// SendBytes writes b with the same length prefix as SendString.
func SendBytes(w io.Writer, b []byte) error {
	return writeAll(w, "send bytes", prefixed(b))
}

// SendInteger writes v as 8 big-endian bytes.
func SendInteger(w io.Writer, v int64) error {
	var buf [IntegerSize]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return writeAll(w, "send integer", buf[:])
}

// SendFloat writes the IEEE 754 bits of v big-endian.
func SendFloat(w io.Writer, v float64) error {
	var buf [FloatSize]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	return writeAll(w, "send float", buf[:])
}

// SendBoolean writes 0xFF for true and 0x00 for false.
func SendBoolean(w io.Writer, v bool) error {
	b := BoolFalse
	if v {
		b = BoolTrue
	}
	return writeAll(w, "send boolean", []byte{b})
}

// SendValue encodes v by its dynamic type.
func SendValue(w io.Writer, v any) error {
	switch x := v.(type) {
	case string:
		return SendString(w, x)
	case []byte:
		return SendBytes(w, x)
	case int64:
		return SendInteger(w, x)
	case int:
		return SendInteger(w, int64(x))
	case float64:
		return SendFloat(w, x)
	case bool:
		return SendBoolean(w, x)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedKind, v)
	}
}

func prefixed(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint64(buf[:LengthPrefixSize], uint64(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func writeAll(w io.Writer, op string, buf []byte) error {
	n, err := w.Write(buf)
	if err != nil {
		return connErr(op, err)
	}
	if n != len(buf) {
		return connErr(op, io.ErrShortWrite)
	}
	return nil
}

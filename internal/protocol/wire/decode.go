package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// ReceiveString reads a length-prefixed string and rejects invalid UTF-8.
func ReceiveString(r io.Reader) (string, error) {
	b, err := receivePrefixed(r, "receive string", DefaultLimits().MaxBytes)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidString
	}
	return string(b), nil
}

// ReceiveBytes reads a length-prefixed blob bounded by DefaultLimits.
func ReceiveBytes(r io.Reader) ([]byte, error) {
	return receivePrefixed(r, "receive bytes", DefaultLimits().MaxBytes)
}

// ReceiveBytesLimit rejects a length prefix above max before allocating.
func ReceiveBytesLimit(r io.Reader, max uint64) ([]byte, error) {
	return receivePrefixed(r, "receive bytes", max)
}

// ReceiveInteger reads 8 big-endian bytes as a signed integer.
func ReceiveInteger(r io.Reader) (int64, error) {
	var buf [IntegerSize]byte
	if err := readFull(r, "receive integer", buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func ReceiveFloat(r io.Reader) (float64, error) {
	var buf [FloatSize]byte
	if err := readFull(r, "receive float", buf[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buf[:])), nil
}

// ReceiveBoolean reports true only for 0xFF.
func ReceiveBoolean(r io.Reader) (bool, error) {
	var buf [BooleanSize]byte
	if err := readFull(r, "receive boolean", buf[:]); err != nil {
		return false, err
	}
	return buf[0] == BoolTrue, nil
}

// ReceiveExact reads exactly len(buf) raw bytes.
func ReceiveExact(r io.Reader, buf []byte) error {
	return readFull(r, "receive raw", buf)
}

func receivePrefixed(r io.Reader, op string, max uint64) ([]byte, error) {
	var prefix [LengthPrefixSize]byte
	if err := readFull(r, op, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint64(prefix[:])
	if n > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, n, max)
	}
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	if err := readFull(r, op, out); err != nil {
		return nil, err
	}
	return out, nil
}

func readFull(r io.Reader, op string, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return connErr(op, err)
	}
	return nil
}

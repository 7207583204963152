package wire

import (
	"errors"
	"fmt"
)

var (
	ErrConnection      = errors.New("wire: connection error")
	ErrTooLarge        = errors.New("wire: length prefix exceeds limit")
	ErrInvalidString   = errors.New("wire: string is not valid utf-8")
	ErrUnsupportedKind = errors.New("wire: unsupported value kind")
)

func connErr(op string, err error) error {
	if errors.Is(err, ErrConnection) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrConnection, op, err)
}

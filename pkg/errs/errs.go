// Package errs classifies node failures into sentinel errors, so callers
// can branch with errors.Is instead of string matching.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure category.
var (
	ErrInvalidDocument = errors.New("invalid document")
	ErrInvalidBlock    = errors.New("invalid block")
	ErrAlreadyKnown    = errors.New("already known")
	ErrUnknownParent   = errors.New("unknown parent")
	ErrStorageFailure  = errors.New("storage failure")
	ErrProtocol        = errors.New("protocol error")
	ErrConfig          = errors.New("config error")
	ErrNetwork         = errors.New("network error")
	ErrNoFreeForkSlot  = errors.New("no free fork slot")
	ErrDuplicateModule = errors.New("duplicate module")
)

// Wrap adds context to err while preserving it for errors.Is/As. It returns
// nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

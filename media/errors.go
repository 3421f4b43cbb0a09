package media

import (
	"errors"
	"fmt"
)

// Error sentinels shared by the data model, the codec engines and the image
// decoder. Callers match them with errors.Is; the concrete message is wrapped
// around the sentinel with %w.
//
// ErrType, ErrRange and ErrInvalidState are returned synchronously from the
// call that violated the contract. ErrNotSupported and ErrEncoding are
// delivered through an engine's error callback. ErrAborted is returned from a
// flush that was superseded by reset, reconfigure or close.
var (
	ErrType         = errors.New("type error")
	ErrRange        = errors.New("range error")
	ErrInvalidState = errors.New("invalid state")
	ErrNotSupported = errors.New("not supported")
	ErrEncoding     = errors.New("encoding error")
	ErrAborted      = errors.New("aborted")
)

func Typef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrType, fmt.Sprintf(format, args...))
}

func Rangef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRange, fmt.Sprintf(format, args...))
}

func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func NotSupportedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotSupported, fmt.Sprintf(format, args...))
}

func Encodingf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEncoding, fmt.Sprintf(format, args...))
}

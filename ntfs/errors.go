package ntfs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned before any I/O when a path is empty or
	// carries characters the Win32 path parser rejects.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotSupported is returned when the opened handle is not a disk file,
	// and by every operation on platforms without NTFS.
	ErrNotSupported    = errors.New("operation not supported")
	// ErrNotReparsePoint is returned when a path carries no reparse data.
	ErrNotReparsePoint = errors.New("not a reparse point")
	// ErrBufferTooLarge is returned when an encoded buffer exceeds MaxReparseBufferSize.
	ErrBufferTooLarge  = errors.New("reparse buffer exceeds maximum size")
)

// OpError records a failed raw operation together with the path it was
// issued against. Err is usually a windows.Errno.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// FormatError describes a malformed reparse buffer: a field or region that
// does not fit inside the bytes actually returned by the file system.
type FormatError struct {
	Field  string
	Offset int
	Length int
	Size   int
	Err    error
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("malformed reparse buffer: %s at [%d:%d] outside %d bytes",
		e.Field, e.Offset, e.Offset+e.Length, e.Size)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

func invalidArgument(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
}

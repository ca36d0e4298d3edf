package utils

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath       = errors.New("path is empty")
	ErrInvalidPathChar = errors.New("path contains an invalid character")
)

// invalidPathChars mirrors the classic Win32 invalid path character set:
// the quote, angle brackets, pipe and every control character below 0x20.
const invalidPathChars = "\"<>|"

// ValidatePath rejects empty paths and paths carrying characters that the
// Win32 path parser refuses. It performs no I/O.
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}
	for i, r := range path {
		if r < 0x20 || strings.ContainsRune(invalidPathChars, r) {
			return fmt.Errorf("%w %q at offset %d", ErrInvalidPathChar, r, i)
		}
	}
	return nil
}

// IsPathWithin returns true if the given path is within any of the roots.
func IsPathWithin(path string, roots []string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

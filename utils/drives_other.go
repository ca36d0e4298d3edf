//go:build !windows
// +build !windows

package utils

import "errors"

// GetLocalDrives is only meaningful on Windows.
func GetLocalDrives() ([]string, error) {
	return nil, errors.New("local drive enumeration is only supported on Windows")
}

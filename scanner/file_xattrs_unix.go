//go:build linux || darwin || freebsd

package scanner

import (
	"bytes"
	"encoding/base64"
	"errors"

	"golang.org/x/sys/unix"
)

// getXattrs lists the extended attributes of the entry itself, never of a
// link target. Values are base64 encoded and cut at maxValueSize bytes; a
// negative maxValueSize keeps whole values and zero records names only.
func getXattrs(path string, maxValueSize int) (map[string]string, error) {
	size, err := unix.Llistxattr(path, nil)
	if err != nil {
		if errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) {
			return nil, errNotSupported
		}
		return nil, err
	}
	if size <= 0 {
		return nil, nil
	}
	names := make([]byte, size)
	n, err := unix.Llistxattr(path, names)
	if err != nil {
		return nil, err
	}

	xattrs := make(map[string]string)
	for _, name := range bytes.Split(names[:n], []byte{0}) {
		if len(name) == 0 {
			continue
		}
		// Attributes removed between the two calls keep an empty value.
		value, _ := xattrValue(path, string(name), maxValueSize)
		xattrs[string(name)] = value
	}
	if len(xattrs) == 0 {
		return nil, nil
	}
	return xattrs, nil
}

func xattrValue(path, name string, maxValueSize int) (string, error) {
	if maxValueSize == 0 {
		return "", nil
	}
	size, err := unix.Lgetxattr(path, name, nil)
	if err != nil || size <= 0 {
		return "", err
	}
	if maxValueSize > 0 && size > maxValueSize {
		size = maxValueSize
	}
	value := make([]byte, size)
	n, err := unix.Lgetxattr(path, name, value)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(value[:n]), nil
}

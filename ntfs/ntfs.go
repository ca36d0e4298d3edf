// Package ntfs reads and writes NTFS alternate data streams and reparse
// points through the raw backup and FSCTL interfaces.
//
// Every exported operation validates its path arguments before touching the
// file system, opens one handle, and releases it before returning. On
// platforms other than Windows the I/O operations fail with ErrNotSupported;
// the buffer codecs work everywhere.
package ntfs

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"pscx/utils"
)

// ListStreams returns the named streams of path in on-disk order. A path
// that does not exist yields no streams and no error.
func ListStreams(path string) ([]StreamRecord, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	return listStreams(path)
}

// GetReparsePoint reads and decodes the reparse point of path.
func GetReparsePoint(path string) (ReparsePoint, error) {
	if err := checkPath(path); err != nil {
		return ReparsePoint{}, err
	}
	data, err := getReparsePointData(path)
	if err != nil {
		return ReparsePoint{}, err
	}
	return DecodeReparsePoint(path, data)
}

// GetReparsePointData returns a copy of the raw reparse buffer of path.
func GetReparsePointData(path string) ([]byte, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	return getReparsePointData(path)
}

// CreateJunction turns the existing empty directory junctionPath into a
// junction that redirects to targetPath. A relative targetPath is resolved
// against the working directory first.
func CreateJunction(junctionPath, targetPath string) error {
	if err := checkPath(junctionPath); err != nil {
		return err
	}
	if err := checkPath(targetPath); err != nil {
		return err
	}
	if !isAbsoluteTarget(targetPath) {
		abs, err := filepath.Abs(targetPath)
		if err != nil {
			return invalidArgument(err)
		}
		targetPath = abs
	}
	buf, err := EncodeJunction(targetPath)
	if err != nil {
		return err
	}
	return setReparsePoint(junctionPath, buf)
}

// DeleteReparsePoint removes the reparse data of path, leaving an ordinary
// file or empty directory behind.
func DeleteReparsePoint(path string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	data, err := getReparsePointData(path)
	if err != nil {
		return err
	}
	buf, err := encodeDelete(data)
	if err != nil {
		return err
	}
	return deleteReparsePoint(path, buf)
}

// CreateSymbolicLink creates linkPath pointing at targetPath. Directory
// targets produce directory links.
func CreateSymbolicLink(linkPath, targetPath string) error {
	if err := checkPath(linkPath); err != nil {
		return err
	}
	if err := checkPath(targetPath); err != nil {
		return err
	}
	return createSymbolicLink(linkPath, targetPath)
}

// IsReparsePoint checks the file attributes of path only. A missing path
// is not a reparse point.
func IsReparsePoint(path string) (bool, error) {
	if err := checkPath(path); err != nil {
		return false, err
	}
	return isReparsePoint(path)
}

// OpenStream opens the named stream of path for reading.
func OpenStream(path, name string) (io.ReadCloser, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	if err := checkStreamName(name); err != nil {
		return nil, err
	}
	return openStream(path, name)
}

// RemoveStream deletes the named stream of path. The primary data stream
// cannot be removed this way.
func RemoveStream(path, name string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	if err := checkStreamName(name); err != nil {
		return err
	}
	return removeStream(path, name)
}

// EnablePrivileges enables SeBackupPrivilege and SeRestorePrivilege for the
// process. It runs at most once; later calls return the first result.
// Operations that need the privileges call it themselves and carry on
// without them.
func EnablePrivileges() error {
	return enablePrivileges()
}

func checkPath(path string) error {
	if err := utils.ValidatePath(path); err != nil {
		return invalidArgument(err)
	}
	return nil
}

func checkStreamName(name string) error {
	n := normalizeStreamName(name)
	if n == "" {
		return invalidArgument(fmt.Errorf("empty stream name"))
	}
	if strings.ContainsAny(n, `:\/`) {
		return invalidArgument(fmt.Errorf("stream name %q contains a path separator or colon", name))
	}
	return checkPath(n)
}

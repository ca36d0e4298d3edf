//go:build !windows
// +build !windows

package ntfs

import "io"

func unsupported(op, path string) error {
	return &OpError{Op: op, Path: path, Err: ErrNotSupported}
}

func listStreams(path string) ([]StreamRecord, error) {
	return nil, unsupported("list streams", path)
}

func getReparsePointData(path string) ([]byte, error) {
	return nil, unsupported("FSCTL_GET_REPARSE_POINT", path)
}

func setReparsePoint(path string, _ []byte) error {
	return unsupported("FSCTL_SET_REPARSE_POINT", path)
}

func deleteReparsePoint(path string, _ []byte) error {
	return unsupported("FSCTL_DELETE_REPARSE_POINT", path)
}

func createSymbolicLink(linkPath, _ string) error {
	return unsupported("CreateSymbolicLink", linkPath)
}

func isReparsePoint(path string) (bool, error) {
	return false, unsupported("GetFileAttributes", path)
}

func openStream(path, name string) (io.ReadCloser, error) {
	return nil, unsupported("open stream", streamPath(path, name))
}

func removeStream(path, name string) error {
	return unsupported("delete stream", streamPath(path, name))
}

func enablePrivileges() error {
	return ErrNotSupported
}

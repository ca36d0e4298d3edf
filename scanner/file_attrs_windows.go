//go:build windows
// +build windows

package scanner

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

var fileAttributeNames = []struct {
	flag uint32
	name string
}{
	{windows.FILE_ATTRIBUTE_READONLY, "read-only"},
	{windows.FILE_ATTRIBUTE_HIDDEN, "hidden"},
	{windows.FILE_ATTRIBUTE_SYSTEM, "system"},
	{windows.FILE_ATTRIBUTE_ARCHIVE, "archive"},
	{windows.FILE_ATTRIBUTE_TEMPORARY, "temporary"},
	{windows.FILE_ATTRIBUTE_SPARSE_FILE, "sparse"},
	{windows.FILE_ATTRIBUTE_REPARSE_POINT, "reparse-point"},
	{windows.FILE_ATTRIBUTE_COMPRESSED, "compressed"},
	{windows.FILE_ATTRIBUTE_OFFLINE, "offline"},
	{windows.FILE_ATTRIBUTE_NOT_CONTENT_INDEXED, "not-content-indexed"},
	{windows.FILE_ATTRIBUTE_ENCRYPTED, "encrypted"},
}

func getFileAttributes(fileInfo os.FileInfo) []string {
	var attrs []string
	if fileInfo.Mode()&os.ModeSymlink != 0 {
		attrs = append(attrs, "symlink")
	}
	data, ok := fileInfo.Sys().(*syscall.Win32FileAttributeData)
	if !ok || data == nil {
		if fileInfo.Mode()&0222 == 0 {
			attrs = append(attrs, "read-only")
		}
		return attrs
	}
	for _, a := range fileAttributeNames {
		if data.FileAttributes&a.flag != 0 {
			attrs = append(attrs, a.name)
		}
	}
	return attrs
}

func isHidden(fileInfo os.FileInfo) bool {
	data, ok := fileInfo.Sys().(*syscall.Win32FileAttributeData)
	return ok && data != nil && data.FileAttributes&windows.FILE_ATTRIBUTE_HIDDEN != 0
}

//go:build !windows
// +build !windows

package scanner

import "os"

func getFileAttributes(fileInfo os.FileInfo) []string {
	var attrs []string
	mode := fileInfo.Mode()

	if mode&os.ModeSymlink != 0 {
		attrs = append(attrs, "symlink")
	}
	if isHidden(fileInfo) {
		attrs = append(attrs, "hidden")
	}
	if mode&0222 == 0 {
		attrs = append(attrs, "read-only")
	}
	return attrs
}

func isHidden(fileInfo os.FileInfo) bool {
	name := fileInfo.Name()
	if name == "." || name == ".." {
		return false
	}
	return name != "" && name[0] == '.'
}

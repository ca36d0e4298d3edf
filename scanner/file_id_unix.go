//go:build !windows

package scanner

import (
	"fmt"
	"os"
	"syscall"
)

// getFileID uses the same vol/file shape as on Windows so records from
// both platforms can be joined on it.
func getFileID(path string, info os.FileInfo) string {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok || stat == nil {
		return ""
	}
	return fmt.Sprintf("vol=%d,file=%d", uint64(stat.Dev), uint64(stat.Ino))
}

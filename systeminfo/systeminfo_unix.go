//go:build !windows
// +build !windows

package systeminfo

import (
	"bufio"
	"bytes"
	"os"
	"runtime"
	"strings"
)

var osReleasePath = "/etc/os-release"

func gatherOSVersion(sysInfo *SystemInfo) error {
	if runtime.GOOS == "linux" {
		if data, err := os.ReadFile(osReleasePath); err == nil {
			if name := parseOSRelease(data); name != "" {
				sysInfo.OSVersion = name
				return nil
			}
		}
	}
	if sysInfo.Platform != "" {
		sysInfo.OSVersion = strings.TrimSpace(sysInfo.Platform + " " + sysInfo.PlatformVersion)
		return nil
	}
	sysInfo.OSVersion = runtime.GOOS
	return nil
}

func parseOSRelease(data []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			return strings.Trim(line[len("PRETTY_NAME="):], "\"")
		}
	}
	return ""
}

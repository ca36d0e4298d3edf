//go:build windows
// +build windows

package systeminfo

import (
	"fmt"
	"strings"

	"golang.org/x/sys/windows/registry"
)

const currentVersionKey = `SOFTWARE\Microsoft\Windows NT\CurrentVersion`

func gatherOSVersion(sysInfo *SystemInfo) error {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, currentVersionKey, registry.QUERY_VALUE)
	if err != nil {
		return fmt.Errorf("failed to open %s: %v", currentVersionKey, err)
	}
	defer k.Close()

	product, _, err := k.GetStringValue("ProductName")
	if err != nil {
		return fmt.Errorf("failed to read ProductName: %v", err)
	}
	display, _, _ := k.GetStringValue("DisplayVersion")
	build, _, _ := k.GetStringValue("CurrentBuild")
	ubr, _, ubrErr := k.GetIntegerValue("UBR")

	version := product
	if display != "" {
		version += " " + display
	}
	if build != "" {
		version += " (build " + build
		if ubrErr == nil {
			version += fmt.Sprintf(".%d", ubr)
		}
		version += ")"
	}
	sysInfo.OSVersion = strings.TrimSpace(version)
	return nil
}

//go:build windows
// +build windows

package utils

import (
	"fmt"
	"strings"

	"golang.org/x/sys/windows"
)

// GetLocalDrives returns the root of every fixed NTFS volume, e.g. `C:\`.
func GetLocalDrives() ([]string, error) {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return nil, fmt.Errorf("failed to list logical drives: %w", err)
	}
	var drives []string
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		root := string(rune('A'+i)) + `:\`
		rootPtr, err := windows.UTF16PtrFromString(root)
		if err != nil {
			continue
		}
		if windows.GetDriveType(rootPtr) != windows.DRIVE_FIXED {
			continue
		}
		fsName, err := fileSystemName(rootPtr)
		if err != nil || !strings.EqualFold(fsName, "NTFS") {
			continue
		}
		drives = append(drives, root)
	}
	return drives, nil
}

func fileSystemName(rootPtr *uint16) (string, error) {
	var fsName [windows.MAX_PATH + 1]uint16
	err := windows.GetVolumeInformation(rootPtr, nil, 0, nil, nil, nil, &fsName[0], uint32(len(fsName)))
	if err != nil {
		return "", err
	}
	return windows.UTF16ToString(fsName[:]), nil
}

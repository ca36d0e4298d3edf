package systeminfo

import (
	"fmt"
	"strings"
	"time"

	"pscx/config"
	"pscx/logger"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
)

type SystemInfo struct {
	Hostname        string       `json:"hostname"`
	OS              string       `json:"os"`
	Platform        string       `json:"platform,omitempty"`
	PlatformVersion string       `json:"platform_version,omitempty"`
	KernelVersion   string       `json:"kernel_version,omitempty"`
	KernelArch      string       `json:"kernel_arch,omitempty"`
	OSVersion       string       `json:"os_version"`
	BootTime        string       `json:"boot_time,omitempty"`
	Volumes         []VolumeInfo `json:"volumes,omitempty"`
}

// VolumeInfo describes one mounted volume and whether its file system
// carries named streams.
type VolumeInfo struct {
	Device       string `json:"device"`
	Mountpoint   string `json:"mountpoint"`
	FSType       string `json:"fs_type"`
	NamedStreams bool   `json:"named_streams"`
}

func GetSystemInfo(cfg *config.Config) (*SystemInfo, error) {
	sysInfo := &SystemInfo{}
	if !cfg.CollectSystemInfo {
		return sysInfo, nil
	}

	if err := gatherHost(sysInfo); err != nil {
		logger.Warnf("Failed to gather host information: %v", err)
	}
	if err := gatherOSVersion(sysInfo); err != nil {
		logger.Warnf("Failed to gather OS version: %v", err)
	}
	if err := gatherVolumes(sysInfo); err != nil {
		logger.Warnf("Failed to gather volumes: %v", err)
	}
	return sysInfo, nil
}

func gatherHost(sysInfo *SystemInfo) error {
	info, err := host.Info()
	if err != nil {
		return fmt.Errorf("failed to get host info: %v", err)
	}
	sysInfo.Hostname = info.Hostname
	sysInfo.OS = info.OS
	sysInfo.Platform = info.Platform
	sysInfo.PlatformVersion = info.PlatformVersion
	sysInfo.KernelVersion = info.KernelVersion
	sysInfo.KernelArch = info.KernelArch
	if info.BootTime > 0 {
		sysInfo.BootTime = time.Unix(int64(info.BootTime), 0).UTC().Format(time.RFC3339)
	}
	return nil
}

func gatherVolumes(sysInfo *SystemInfo) error {
	partitions, err := disk.Partitions(false)
	if err != nil {
		return fmt.Errorf("failed to list partitions: %v", err)
	}
	for _, p := range partitions {
		sysInfo.Volumes = append(sysInfo.Volumes, VolumeInfo{
			Device:       p.Device,
			Mountpoint:   p.Mountpoint,
			FSType:       p.Fstype,
			NamedStreams: supportsNamedStreams(p.Fstype),
		})
	}
	return nil
}

// supportsNamedStreams reports whether fsType stores alternate data streams.
func supportsNamedStreams(fsType string) bool {
	switch strings.ToUpper(fsType) {
	case "NTFS", "REFS":
		return true
	}
	return false
}

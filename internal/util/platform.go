package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Platform represents the current operating system.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformDarwin  Platform = "darwin"
	PlatformUnknown Platform = "unknown"
)

// GetPlatform returns the current platform.
func GetPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformDarwin
	default:
		return PlatformUnknown
	}
}

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Platform     Platform `json:"platform"`
	Hostname     string   `json:"hostname"`
	OS           string   `json:"os"`
	Architecture string   `json:"architecture"`
	CPUModel     string   `json:"cpu_model"`
	CPUCores     int      `json:"cpu_cores"`
	TotalMemory  uint64   `json:"total_memory_mb"`
	FreeMemory   uint64   `json:"available_memory_mb"`
	Uptime       uint64   `json:"uptime_sec"`
	JavaHome     string   `json:"java_home,omitempty"`
}

// GetSystemInfo gathers system information.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform:     GetPlatform(),
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
		JavaHome:     os.Getenv("JAVA_HOME"),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
		info.Uptime = hostInfo.Uptime
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
		info.FreeMemory = memInfo.Available / (1024 * 1024)
	}

	return info
}

// HomeEnvVar returns the environment variable the game data directory is
// resolved from on this platform.
func HomeEnvVar() string {
	if runtime.GOOS == "windows" {
		return "APPDATA"
	}
	return "HOME"
}

// MinecraftDir returns the platform's default .minecraft data directory.
func MinecraftDir() (string, error) {
	base := os.Getenv(HomeEnvVar())
	if base == "" {
		return "", fmt.Errorf("no %s environment variable found", HomeEnvVar())
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(base, ".minecraft"), nil
	case "darwin":
		return filepath.Join(base, "Library", "Application Support", "minecraft"), nil
	default:
		return filepath.Join(base, ".minecraft"), nil
	}
}

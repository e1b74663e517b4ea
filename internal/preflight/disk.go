package preflight

import (
	"context"
	"fmt"
	"syscall"
)

// MinDiskSpaceBytes is the minimum free space for the indexes (100MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// DiskSpace checks free space on the filesystem holding dir.
func DiskSpace(dir string) Check {
	return func(context.Context) CheckResult {
		result := CheckResult{Name: "disk_space", Required: true}

		var stat syscall.Statfs_t
		if err := syscall.Statfs(dir, &stat); err != nil {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("failed to check disk space: %v", err)
			return result
		}

		available := stat.Bavail * uint64(stat.Bsize)
		result.Message = fmt.Sprintf("%s free (minimum: 100 MB)", formatBytes(available))
		if available < MinDiskSpaceBytes {
			result.Status = StatusFail
			return result
		}
		result.Status = StatusPass
		return result
	}
}

func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

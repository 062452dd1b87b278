package drive

import (
	"context"
	"runtime"

	"github.com/Laisky/zap"

	"github.com/Laisky/laisky-drive/internal/drive/blob"
)

// SystemInfo describes the host capacity backing the drive.
type SystemInfo struct {
	// Disk is nil where filesystem statistics are unavailable.
	Disk       *blob.DiskUsage `json:"disk"`
	Memory     MemoryInfo      `json:"memory"`
	NumCPU     int             `json:"num_cpu"`
	Goroutines int             `json:"goroutines"`
}

// MemoryInfo is the memory held by this process.
type MemoryInfo struct {
	Sys       uint64 `json:"sys"`
	HeapAlloc uint64 `json:"heap_alloc"`
	HeapInuse uint64 `json:"heap_inuse"`
}

// SystemInfo reports disk usage of the storage root plus process statistics.
func (s *Service) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	info := &SystemInfo{
		Memory: MemoryInfo{
			Sys:       mem.Sys,
			HeapAlloc: mem.HeapAlloc,
			HeapInuse: mem.HeapInuse,
		},
		NumCPU:     runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
	}

	disk, err := s.blobs.DiskUsage()
	if err != nil {
		s.LoggerFromContext(ctx).Warn("read disk usage", zap.String("root", s.blobs.Root()), zap.Error(err))
		return info, nil
	}
	info.Disk = &disk
	return info, nil
}

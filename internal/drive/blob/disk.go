package blob

import "github.com/Laisky/errors/v2"

// ErrDiskUsageUnsupported is returned where filesystem statistics are unavailable.
var ErrDiskUsageUnsupported = errors.New("disk usage is not supported on this platform")

// DiskUsage is the capacity of the filesystem holding the store root.
type DiskUsage struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"`
}

func newDiskUsage(blockSize, blocks, blocksFree, blocksAvail uint64) DiskUsage {
	u := DiskUsage{
		Total: blocks * blockSize,
		Used:  (blocks - blocksFree) * blockSize,
		Free:  blocksAvail * blockSize,
	}
	// reserved blocks are neither used nor available to unprivileged writers
	if visible := u.Used + u.Free; visible > 0 {
		u.Percent = float64(u.Used) * 100 / float64(visible)
	}
	return u
}

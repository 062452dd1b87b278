//go:build linux || darwin

package blob

import (
	"github.com/Laisky/errors/v2"
	"golang.org/x/sys/unix"
)

// DiskUsage reports the capacity of the filesystem holding the root.
func (s *Store) DiskUsage() (DiskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(s.root, &st); err != nil {
		return DiskUsage{}, errors.Wrap(err, "statfs storage root")
	}
	return newDiskUsage(uint64(st.Bsize), st.Blocks, st.Bfree, st.Bavail), nil
}

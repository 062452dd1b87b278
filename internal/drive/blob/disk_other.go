//go:build !linux && !darwin

package blob

import "github.com/Laisky/errors/v2"

// DiskUsage reports the capacity of the filesystem holding the root.
func (s *Store) DiskUsage() (DiskUsage, error) {
	return DiskUsage{}, errors.WithStack(ErrDiskUsageUnsupported)
}

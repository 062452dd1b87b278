//go:build linux || darwin

package blob

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiskUsage(t *testing.T) {
	s := newTestStore(t)

	usage, err := s.DiskUsage()
	require.NoError(t, err)
	require.NotZero(t, usage.Total)
	require.LessOrEqual(t, usage.Used, usage.Total)
	require.LessOrEqual(t, usage.Free, usage.Total)
	require.GreaterOrEqual(t, usage.Percent, 0.0)
	require.LessOrEqual(t, usage.Percent, 100.0)
}

func TestNewDiskUsage(t *testing.T) {
	u := newDiskUsage(4096, 100, 40, 30)
	require.Equal(t, uint64(409600), u.Total)
	require.Equal(t, uint64(60*4096), u.Used)
	require.Equal(t, uint64(30*4096), u.Free)
	require.InDelta(t, 66.67, u.Percent, 0.01)
}

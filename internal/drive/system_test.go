package drive

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSystemInfo(t *testing.T) {
	env := newTestEnv(t)

	info, err := env.svc.SystemInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, runtime.NumCPU(), info.NumCPU)
	require.NotZero(t, info.Goroutines)
	require.NotZero(t, info.Memory.Sys)

	if runtime.GOOS == "linux" || runtime.GOOS == "darwin" {
		require.NotNil(t, info.Disk)
		require.NotZero(t, info.Disk.Total)
		require.LessOrEqual(t, info.Disk.Percent, 100.0)
	}
}

package cmd

import (
	"context"

	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/laisky-drive/internal/drive"
	"github.com/Laisky/laisky-drive/library/log"
)

var recomputeUsageCMD = &cobra.Command{
	Use:   "recompute-usage",
	Short: "recompute-usage",
	Long:  `rebuild every user's storage usage from the stored file sizes`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc, err := buildService(ctx, drive.LoadSettingsFromConfig())
		if err != nil {
			log.Logger.Panic("build service", zap.Error(err))
		}

		n, err := svc.RecomputeAllUsage(ctx)
		if err != nil {
			log.Logger.Panic("recompute usage", zap.Error(err), zap.Int("done", n))
		}
		log.Logger.Info("usage recomputed", zap.Int("users", n))
	},
}

func init() {
	rootCMD.AddCommand(recomputeUsageCMD)
}

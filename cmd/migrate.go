package cmd

import (
	"context"

	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/laisky-drive/internal/drive"
	"github.com/Laisky/laisky-drive/library/log"
)

var migrateCMD = &cobra.Command{
	Use:   "migrate",
	Short: "migrate",
	Long:  `migrate db`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		db, err := openDB(ctx)
		if err != nil {
			log.Logger.Panic("open db", zap.Error(err))
		}
		if err := drive.RunMigrations(ctx, db, log.Logger.Named("migrate")); err != nil {
			log.Logger.Panic("migrate", zap.Error(err))
		}
		log.Logger.Info("migration finished")
	},
}

func init() {
	rootCMD.AddCommand(migrateCMD)
}

// Package cmd command line
package cmd

import (
	"context"
	"fmt"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/laisky-drive/library/config"
	"github.com/Laisky/laisky-drive/library/jwt"
	"github.com/Laisky/laisky-drive/library/log"
)

var rootCMD = &cobra.Command{
	Use:   "laisky-drive",
	Short: "laisky-drive",
	Long:  `multi-tenant file storage, sharing and streaming service`,
	Args:  gcmd.NoExtraArgs,
}

func initialize(ctx context.Context, cmd *cobra.Command) error {
	if err := gconfig.Shared.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "bind pflags")
	}

	setupSettings(ctx)
	setupLogger(ctx)
	if err := validateStartupConfig(); err != nil {
		return errors.Wrap(err, "validate config")
	}
	if err := setupLibrary(ctx); err != nil {
		return errors.Wrap(err, "setup library")
	}

	return nil
}

func setupLibrary(_ context.Context) error {
	if err := jwt.Initialize([]byte(gconfig.Shared.GetString("settings.secret"))); err != nil {
		return errors.Wrap(err, "setup jwt")
	}

	return nil
}

func setupSettings(_ context.Context) {
	// mode
	if gconfig.Shared.GetBool("debug") {
		fmt.Println("run in debug mode")
		gconfig.Shared.Set("log-level", "debug")
	} else { // prod mode
		fmt.Println("run in prod mode")
	}

	// load configuration
	cfgPath := gconfig.Shared.GetString("config")
	config.LoadFromFile(cfgPath)
}

func setupLogger(_ context.Context) {
	lvl := gconfig.Shared.GetString("log-level")
	if err := log.Logger.ChangeLevel(logSDK.Level(lvl)); err != nil {
		log.Logger.Panic("change log level", zap.Error(err), zap.String("level", lvl))
	}
}

func init() {
	rootCMD.PersistentFlags().Bool("debug", false, "run in debug mode")
	rootCMD.PersistentFlags().String("listen", "localhost:8080", "like `localhost:8080`")
	rootCMD.PersistentFlags().StringP("config", "c", "/etc/laisky-drive/settings.yml", "config file path")
	rootCMD.PersistentFlags().String("log-level", "info", "`debug/info/error`")
}

// Execute execute root command
func Execute() {
	if err := rootCMD.Execute(); err != nil {
		logSDK.Shared.Panic("start", zap.Error(err))
	}
}

package cmd

import (
	"context"
	"os/signal"
	"syscall"

	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Laisky/laisky-drive/internal/drive"
	"github.com/Laisky/laisky-drive/internal/web"
	"github.com/Laisky/laisky-drive/library/auth"
	"github.com/Laisky/laisky-drive/library/jwt"
	"github.com/Laisky/laisky-drive/library/log"
)

var apiCMD = &cobra.Command{
	Use:   "api",
	Short: "api",
	Long:  `HTTP API of the file drive`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err := runAPI(ctx); err != nil {
			log.Logger.Panic("run api", zap.Error(err))
		}
	},
}

func runAPI(ctx context.Context) error {
	if !gconfig.Shared.GetBool("debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	settings := drive.LoadSettingsFromConfig()
	svc, err := buildService(ctx, settings)
	if err != nil {
		return err
	}

	if settings.SeedDefaultUsers {
		if err := svc.SeedDefaultUsers(ctx); err != nil {
			return err
		}
	}

	authenticator, err := auth.New(jwt.Instance)
	if err != nil {
		return err
	}
	server, err := web.NewServer(svc, authenticator, web.LoadOptionsFromConfig())
	if err != nil {
		return err
	}

	return server.Run(ctx, gconfig.Shared.GetString("listen"))
}

func init() {
	rootCMD.AddCommand(apiCMD)
}

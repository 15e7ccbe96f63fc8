package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haierkeys/vault-device-sync/global"
	internalApp "github.com/haierkeys/vault-device-sync/internal/app"
	"github.com/haierkeys/vault-device-sync/internal/relay"
	"github.com/haierkeys/vault-device-sync/internal/routers"
	"github.com/haierkeys/vault-device-sync/pkg/logger"
	"github.com/haierkeys/vault-device-sync/pkg/safe_close"
	"github.com/haierkeys/vault-device-sync/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type relayFlags struct {
	listen string // Listen address // 监听地址
	config string // Specified configuration file path // 指定要使用的配置文件路径
}

func init() {
	relayEnv := new(relayFlags)

	var relayCommand = &cobra.Command{
		Use:   "relay [-c config_file] [-l listen_addr]",
		Short: "Run blind relay mailbox service",
		Run: func(cmd *cobra.Command, args []string) {
			runEnv := &runFlags{config: relayEnv.config}
			if err := resolveConfig(runEnv); err != nil {
				bootstrapLogger.Error("config file auto create error", zap.Error(err))
				return
			}

			appConfig, configRealpath, err := internalApp.LoadConfig(runEnv.config)
			if err != nil {
				bootstrapLogger.Error("failed to load config", zap.Error(err))
				return
			}
			if len(relayEnv.listen) > 0 {
				appConfig.Relay.Listen = relayEnv.listen
			}

			gin.SetMode(appConfig.Server.RunMode)

			lg, err := logger.NewLogger(logger.Config{
				Level:      appConfig.Log.Level,
				File:       appConfig.Log.File,
				Production: appConfig.Log.Production,
			})
			if err != nil {
				bootstrapLogger.Error("failed to init logger", zap.Error(err))
				return
			}
			global.Logger = lg

			checkSecurityConfigWithConfig(appConfig, lg)

			store, err := storage.NewClient(&appConfig.Relay.Storage)
			if err != nil {
				lg.Error("relay storage init err", zap.Error(err))
				return
			}
			relaySvc := relay.NewService(store, appConfig.GetRelayServiceConfig(), lg)

			lg.Warn(fmt.Sprintf("%s Relay v%s", internalApp.Name, internalApp.Version))
			lg.Warn("config loaded", zap.String("path", configRealpath))
			lg.Warn("relay_router", zap.String("config.relay.Listen", appConfig.Relay.Listen))

			sc := safe_close.NewSafeClose()
			server := &http.Server{
				Addr:           appConfig.Relay.Listen,
				Handler:        routers.NewRelayRouter(appConfig, relaySvc, lg),
				ReadTimeout:    time.Duration(appConfig.Server.ReadTimeout) * time.Second,
				WriteTimeout:   time.Duration(appConfig.Server.WriteTimeout) * time.Second,
				MaxHeaderBytes: 1 << 20,
			}
			sc.Attach(func(done func(), closeSignal <-chan struct{}) {
				defer done()
				errChan := make(chan error, 1)
				go func() {
					errChan <- server.ListenAndServe()
				}()
				select {
				case err := <-errChan:
					lg.Error("relay service err", zap.Error(err))
					sc.SendCloseSignal(err)
				case <-closeSignal:
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := server.Shutdown(ctx); err != nil {
						lg.Error("relay service shutdown error", zap.Error(err))
					}
				}
			})

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			lg.Info("Received shutdown signal, initiating graceful shutdown...")
			sc.SendCloseSignal(nil)

			if err := sc.WaitClosed(); err != nil {
				lg.Error("Shutdown completed with error", zap.Error(err))
			} else {
				lg.Info("Relay service has been shut down gracefully.")
			}
		},
	}

	rootCmd.AddCommand(relayCommand)
	fs := relayCommand.Flags()
	fs.StringVarP(&relayEnv.listen, "listen", "l", "", "listen address")
	fs.StringVarP(&relayEnv.config, "config", "c", "", "config file")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openvacs/vacs/internal/common/config"
	"github.com/openvacs/vacs/internal/identity"
	"github.com/openvacs/vacs/internal/server"
	"github.com/openvacs/vacs/internal/token"
	"github.com/openvacs/vacs/pkg/logger"
	"github.com/openvacs/vacs/pkg/metrics"
	"github.com/openvacs/vacs/pkg/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of signaling-server",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("signaling-server version %s (%s, %s)\n",
				version.Get(), version.GitCommit(), version.GoVersion())
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the signaling server",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(run())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "signaling-server",
		Short: "VACS signaling server",
		Long:  `The VACS signaling server relays voice-call signaling between logged-in stations.`,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(run())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "", "path to configuration file")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("VACS_CONFIG"); envPath != "" {
		return envPath
	}
	return "configs/signaling.yaml"
}

func run() (exitCode int) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic: %v\n%s", r, debug.Stack())
			exitCode = 2
		}
	}()

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		log.Printf("failed to load configuration: %v", err)
		return 1
	}

	zapLogger, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		log.Printf("failed to initialize logger: %v", err)
		return 1
	}
	defer func() { _ = zapLogger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens, err := token.NewStore(ctx, zapLogger, cfg.Store)
	if err != nil {
		zapLogger.Error("failed to initialize token store", zap.Error(err))
		return 1
	}

	provider := identity.NewOIDCProvider(cfg.Auth)
	srv := server.NewServer(zapLogger, cfg, tokens, provider, metrics.New(cfg.Metrics))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	srv.RegisterRoutes(router)

	httpSrv := &http.Server{
		Addr:    cfg.Server.BindAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		zapLogger.Info("signaling server listening",
			zap.String("addr", cfg.Server.BindAddr),
			zap.String("version", version.Get()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		zapLogger.Error("server failed", zap.Error(err))
		return 1
	case sig := <-quit:
		zapLogger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("session shutdown incomplete", zap.Error(err))
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("http shutdown incomplete", zap.Error(err))
		return 1
	}

	zapLogger.Info("shutdown complete")
	return 0
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

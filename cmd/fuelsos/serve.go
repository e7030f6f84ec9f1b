package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"FuelSOS/internal/app"
	"FuelSOS/pkg/config"
	"FuelSOS/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var addr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE:  serve,
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides ADDR")
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	svc, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("service close", zap.Error(err))
		}
	}()
	return svc.Run(ctx)
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumira-media/lumira/internal/config"
	"github.com/lumira-media/lumira/internal/logger"
	"github.com/lumira-media/lumira/internal/server"
)

func main() {
	configPath := flag.String("config", "lumira.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration: %v", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg)
	if err != nil {
		logger.Error("failed to start server: %v", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error: %v", err)
			os.Exit(1)
		}
	case sig := <-quit:
		logger.Info("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown error: %v", err)
			os.Exit(1)
		}
	}
}

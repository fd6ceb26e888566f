package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/stagegraph/internal/config"
	"github.com/OFFIS-RIT/stagegraph/internal/server"
	"github.com/OFFIS-RIT/stagegraph/internal/util"
	"github.com/OFFIS-RIT/stagegraph/pkg/logger"
	"github.com/OFFIS-RIT/stagegraph/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()
	cfg := config.Load()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: cfg.Debug,
	})
	logger.Init(consoleLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg); err != nil {
		logger.Fatal("Server failed", "err", err)
	}
}

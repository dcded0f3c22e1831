package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/AlgoriThai07/crypto-indicators-dashboard/internal/app"
	httpserver "github.com/AlgoriThai07/crypto-indicators-dashboard/internal/http"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := httpserver.NewServer(
		bootstrap.Config.Server.Addr,
		bootstrap.Fetcher,
		bootstrap.Multiplexer,
		bootstrap.Breaker,
		bootstrap.Config.Coins,
		bootstrap.Logger,
	)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("Shut down gracefully")
}

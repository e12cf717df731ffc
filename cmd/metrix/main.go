package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/metrix/internal/config"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"metrix.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Demo struct {
		Count    int           `short:"n" help:"Number of traffic iterations" default:"100"`
		Interval time.Duration `short:"i" help:"Pause between iterations" default:"10ms"`
	} `cmd:"" help:"Generate synthetic metrics against the configured backend"`

	Daemon struct {
	} `cmd:"" help:"Aggregate metrics in-process and publish snapshots periodically"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	runCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch ctx.Command() {
	case "demo":
		if err := runDemo(runCtx, cfg, CLI.Demo.Count, CLI.Demo.Interval); err != nil {
			slog.Error("Demo failed", "error", err)
			os.Exit(1)
		}
	case "daemon":
		if err := runDaemon(runCtx, cfg); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	}
}

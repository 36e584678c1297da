package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tphakala/ecosort/cmd"
	"github.com/tphakala/ecosort/internal/buildinfo"
	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/logger"
	"github.com/tphakala/ecosort/internal/telemetry"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

const telemetryFlushTimeout = 2 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 1
	}

	build := buildinfo.NewContext(version, buildDate)
	settings.Version = build.GetVersion()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(settings, build)
	err = rootCmd.ExecuteContext(ctx)

	telemetry.Flush(telemetryFlushTimeout)
	_ = logger.Global().Close()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

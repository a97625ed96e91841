// Package main provides the EVOS sync core entry point. The core is a
// platform-agnostic library that can be compiled as:
// - Shared library for mobile (Dart FFI)
// - Standalone binary for field diagnostics
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/plataformas-interjato/super-app-evos-sub001/internal/config"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/core"
	"github.com/plataformas-interjato/super-app-evos-sub001/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	fmt.Printf("EVOS Sync Core v%s\n", Version)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	c, err := core.New(ctx, cfg, nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start core: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.Maintenance(ctx); err != nil {
		logging.Warn("maintenance pass failed", logging.Fields{"reason": err.Error()})
	}
	c.Start()

	logging.Info("sync core running", logging.Fields{
		"data_dir": cfg.DataDir,
		"backend":  cfg.RemoteBaseURL,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logging.Info("shutting down", nil)
}

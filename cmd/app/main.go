// Command app runs the giftboard runtime: it assembles the container, walks
// the staged bootstrap and serves the diagnostics endpoint until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"giftboard-runtime/internal/app"
	"giftboard-runtime/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A retry recovery schedules a restart; loop until a clean exit.
	for {
		a, err := app.New()
		if err != nil {
			return err
		}

		watcher, err := config.NewWatcher(a.Config, a.Logger)
		if err != nil {
			a.Logger.Warn("config hot reload unavailable", zap.Error(err))
		}

		err = a.Run(ctx)
		if watcher != nil {
			watcher.Stop()
		}
		if errors.Is(err, app.ErrRestartRequested) {
			a.Logger.Info("restarting runtime")
			continue
		}
		return err
	}
}

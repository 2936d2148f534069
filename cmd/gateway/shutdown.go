package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/streamgw/internal/configsync"
	"github.com/vyrodovalexey/streamgw/internal/observability"
)

// runGateway runs the sync loop and the HTTP server, then handles
// shutdown. A lost change feed does not stop the process: the gateway
// keeps serving from the frozen table and reports itself degraded until
// an operator restarts it.
func runGateway(app *application, logger observability.Logger) {
	syncCtx, cancelSync := context.WithCancel(context.Background())
	defer cancelSync()

	syncDone := make(chan error, 1)
	go func() { syncDone <- app.syncer.Run(syncCtx) }()

	serverDone := make(chan error, 1)
	go func() { serverDone <- app.server.Start() }()

	waitForShutdown(app, cancelSync, syncDone, serverDone, logger)
}

// waitForShutdown blocks until a signal or a server failure, then tears
// the application down in order: HTTP server first, then the sync loop
// (which releases its feed subscription before returning), and the
// store connection pool last.
func waitForShutdown(
	app *application,
	cancelSync context.CancelFunc,
	syncDone <-chan error,
	serverDone <-chan error,
	logger observability.Logger,
) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	running := true
	for running {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal",
				observability.String("signal", sig.String()))
			running = false

		case err := <-syncDone:
			if errors.Is(err, configsync.ErrFeedClosed) {
				logger.Error("change feed lost, serving frozen routing table",
					observability.Error(err))
				syncDone = nil
				continue
			}
			if err != nil {
				logger.Error("sync loop failed", observability.Error(err))
			}
			syncDone = nil

		case err := <-serverDone:
			if err != nil {
				logger.Error("HTTP server failed", observability.Error(err))
			}
			running = false
			serverDone = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownTimeout)
	defer cancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop HTTP server gracefully", observability.Error(err))
	}

	// Stop the sync loop and wait for it to release its subscription
	// before closing the store underneath it.
	cancelSync()
	if syncDone != nil {
		<-syncDone
	}

	if err := app.store.Close(); err != nil {
		logger.Error("failed to close store", observability.Error(err))
	}

	logger.Info("gateway stopped")
}

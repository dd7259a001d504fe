package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatehouse/internal/server"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		// Logger config may itself be broken; stderr is the one sink
		// that always works this early.
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	server.InitLogger(cfg.Log)
	defer server.CloseLogger()
	cfg.LogOptions()

	srv := server.New(cfg)

	// Start the boot sequence and the HTTP server in the background so
	// we can listen for OS signals while it runs. Start only returns on
	// boot failure or listener exit.
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Graceful shutdown on SIGINT (Ctrl+C) or SIGTERM (container stop).
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		server.Log().Info("shutting down", map[string]interface{}{"signal": sig.String()})
		// Give in-flight requests 5 seconds to finish.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			server.Log().Error("shutdown error", nil, err)
			server.CloseLogger()
			os.Exit(1)
		}
		server.Log().Info("shutdown complete", nil)
	case err := <-errCh:
		if err != nil {
			// Boot failures land here, storage connect included; the
			// process must not linger half-started.
			server.Log().Error("server error", nil, err)
			server.CloseLogger()
			os.Exit(1)
		}
	}
}

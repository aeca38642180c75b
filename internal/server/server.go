// Package server provides HTTP server setup and lifecycle management.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"git.uuxo.net/uuxo/cpuprobe/internal/config"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// New creates a configured HTTP server.
func New(addr string, handler http.Handler, timeouts config.TimeoutConfig) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        handler,
		ReadTimeout:    timeouts.Read,
		WriteTimeout:   timeouts.Write,
		IdleTimeout:    timeouts.Idle,
		MaxHeaderBytes: 1 << 20,
	}
}

// Start starts the HTTP server and blocks until shutdown.  A graceful
// shutdown returns nil.
func Start(srv *http.Server) error {
	log.Infof("Starting cpuprobe exporter on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops srv, waiting up to timeout for in-flight requests.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server shutdown error: %v", err)
		return err
	}
	log.Info("Server shutdown completed")
	return nil
}

// SetupGracefulShutdown shuts srv down on SIGINT/SIGTERM, after cancelling
// background work via cancel.  cleanupFn runs once the server has stopped.
// The returned channel is closed when shutdown and cleanup are complete;
// Start returns as soon as shutdown begins, so callers wait on it before
// exiting.
func SetupGracefulShutdown(srv *http.Server, cancel context.CancelFunc, timeout time.Duration, cleanupFn func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(done)
		sig := <-sigChan
		signal.Stop(sigChan)
		log.Infof("Received signal %v, initiating graceful shutdown...", sig)

		cancel()
		_ = Shutdown(srv, timeout)

		if cleanupFn != nil {
			cleanupFn()
		}
	}()
	return done
}

// PrintStartupBanner prints the exporter startup banner.
func PrintStartupBanner(version, listenAddr, summary string) {
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║         cpuprobe exporter                    ║")
	fmt.Printf("║         Version: %-28s║\n", version)
	fmt.Printf("║         Listen:  %-28s║\n", listenAddr)
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Printf("  %s\n", summary)
}

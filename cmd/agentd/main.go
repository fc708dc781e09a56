// Command agentd is the control-plane daemon: it owns the one CDP
// attachment this host is allowed to hold, speaks to the policy server
// over the bridge (inline or through the sidecar), and exposes
// internal/httpapi for agentctl and other operators.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cdp-agent/browserctl/internal/bridge"
	"github.com/cdp-agent/browserctl/internal/cdp"
	"github.com/cdp-agent/browserctl/internal/config"
	"github.com/cdp-agent/browserctl/internal/httpapi"
	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/internal/metrics"
	"github.com/cdp-agent/browserctl/internal/session"
	"github.com/cdp-agent/browserctl/internal/sidecar"
	"github.com/cdp-agent/browserctl/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to agentd config YAML")
	devtoolsURL := flag.String("devtools-url", "http://127.0.0.1:9222", "Chrome DevTools debugging endpoint")
	flag.Parse()

	if err := run(*configPath, *devtoolsURL); err != nil {
		fmt.Fprintln(os.Stderr, "agentd:", err)
		os.Exit(1)
	}
}

func run(configPath, devtoolsURL string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := ilog.New(ilog.Config{
		Level:    cfg.Log.Level,
		Writers:  cfg.Log.Writer,
		FilePath: cfg.Log.File,
	})
	log.Info("agentd starting", "version", cfg.Version, "devtoolsURL", devtoolsURL)

	store, err := storage.Open(cfg, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	driver := cdp.New(devtoolsURL, log)

	transport, closeTransport, err := buildTransport(cfg, log)
	if err != nil {
		return fmt.Errorf("build bridge transport: %w", err)
	}
	defer closeTransport()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect bridge: %w", err)
	}

	controller := session.NewController(driver, store, log)
	if err := controller.Reconcile(ctx); err != nil {
		log.Warn("startup reconcile failed", "err", err.Error())
	}

	var mc *metrics.Collector
	if cfg.HTTP.EnableMetrics {
		mc = metrics.NewCollector("agentd")
	}

	srv := httpapi.New(controller, driver, transport, store, mc, log)
	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: srv}

	errCh := make(chan error, 1)
	go func() {
		log.Info("httpapi listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Err(err, "http server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", "err", err.Error())
	}

	if sess, ok := controller.Active(); ok {
		if err := controller.Stop(shutdownCtx, sess.ID); err != nil {
			log.Warn("stop active session on shutdown", "err", err.Error())
		}
	}

	return nil
}

// buildTransport picks the inline websocket transport or, when the config
// asks for it, spins up the in-process sidecar and hands back a
// sidecarTransport dialed against it -- the same process, two transport
// shapes, chosen the way spec.md's deployment section allows.
func buildTransport(cfg *config.Config, log ilog.Logger) (bridge.Transport, func(), error) {
	wsCfg := bridge.Config{
		URL:             cfg.Bridge.URL,
		BaseDelay:       time.Duration(cfg.Bridge.BaseDelayMS) * time.Millisecond,
		MaxAttempts:     cfg.Bridge.MaxReconnects,
		HeartbeatPeriod: time.Duration(cfg.Bridge.HeartbeatSeconds) * time.Second,
	}

	if !cfg.Bridge.UseSidecar {
		t := bridge.NewWSTransport(wsCfg, log)
		return t, func() { _ = t.Close() }, nil
	}

	real := bridge.NewWSTransport(wsCfg, log)
	sc := sidecar.New(real, log)

	sidecarCtx, sidecarCancel := context.WithCancel(context.Background())
	go func() {
		if err := sc.Run(sidecarCtx); err != nil && sidecarCtx.Err() == nil {
			log.Err(err, "sidecar run exited")
		}
	}()

	t := bridge.NewSidecarTransport(func(ctx context.Context) bridge.Mailbox {
		return sc.Dial(ctx)
	}, log)

	closeFn := func() {
		_ = t.Close()
		sidecarCancel()
		_ = sc.Close()
	}
	return t, closeFn, nil
}

// Package main implements the 5G-ERA network application client. It opens a
// session against a remote network application, either directly or through
// the orchestration middleware, and streams synthetic frames over the data
// channel while printing results.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Kapim/era-5g-client/client"
	"github.com/Kapim/era-5g-client/config"
	"github.com/Kapim/era-5g-client/metric"
	"github.com/Kapim/era-5g-client/middleware"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "era5g-client"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.LogLevel = cliCfg.LogLevel
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := setupLogger(level, cliCfg.LogFormat)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting network application client",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"middleware", cfg.UsesMiddleware())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()

	session, err := newSession(cfg, registry, logger)
	if err != nil {
		return err
	}

	if err := openSession(ctx, session, cfg, cliCfg.WaitTimeout); err != nil {
		session.Disconnect()
		return err
	}
	defer session.Disconnect()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsPort > 0 {
		g.Go(func() error {
			return serveMetrics(gctx, registry, cfg.MetricsPort, logger)
		})
	}

	producer := &frameProducer{
		session: session,
		fps:     cfg.Stream.FPS,
		width:   cfg.Stream.Width,
		height:  cfg.Stream.Height,
		logger:  logger,
	}
	g.Go(func() error {
		return producer.run(gctx)
	})

	g.Go(func() error {
		session.Wait()
		stop()
		return nil
	})

	err = g.Wait()
	slog.Info("Client stopped")
	return err
}

// newSession builds the client with its collaborators.
func newSession(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*client.Client, error) {
	opts := []client.Option{
		client.WithBackpressureCapacity(cfg.Backpressure.Capacity),
		client.WithMetricsRegistry(registry),
		client.WithLogger(logger),
	}

	if cfg.UsesMiddleware() {
		mw := middleware.NewClient(middleware.Info{
			Address:  cfg.Middleware.Address,
			User:     cfg.Middleware.User,
			Password: cfg.Middleware.Password,
		}, middleware.WithLogger(logger))
		opts = append(opts, client.WithMiddleware(mw))
	}

	return client.New(&resultPrinter{logger: logger}, opts...)
}

// openSession registers against the network application, going through the
// middleware when one is configured.
func openSession(ctx context.Context, session *client.Client, cfg *config.Config, waitTimeout time.Duration) error {
	args := map[string]any{
		"fps":    cfg.Stream.FPS,
		"width":  cfg.Stream.Width,
		"height": cfg.Stream.Height,
	}

	if cfg.UsesMiddleware() {
		if err := session.RegisterWithMiddleware(ctx, cfg.Middleware.TaskID, cfg.Middleware.ResourceLock); err != nil {
			return fmt.Errorf("middleware registration: %w", err)
		}
		if err := session.RunTask(ctx, args, waitTimeout); err != nil {
			return fmt.Errorf("run task: %w", err)
		}
		return nil
	}

	target := cfg.NetAppTarget()
	if err := session.Register(ctx, target, args, true, waitTimeout); err != nil {
		return fmt.Errorf("register at %s: %w", target.String(), err)
	}
	return nil
}

// serveMetrics exposes the Prometheus endpoint until ctx is done.
func serveMetrics(ctx context.Context, registry *metric.MetricsRegistry, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint up", "port", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// resultPrinter logs traffic coming back from the network application.
type resultPrinter struct {
	client.BaseHandler
	logger *slog.Logger
}

func (h *resultPrinter) OnResults(payload json.RawMessage) {
	h.logger.Info("result received", "payload", string(payload))
}

func (h *resultPrinter) OnImageError(payload json.RawMessage) {
	h.logger.Warn("image rejected by application", "payload", string(payload))
}

func (h *resultPrinter) OnJSONError(payload json.RawMessage) {
	h.logger.Warn("json rejected by application", "payload", string(payload))
}

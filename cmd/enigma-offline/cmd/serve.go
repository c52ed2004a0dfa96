package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/offline"
	offlinehttp "github.com/meigma/offline/http"
	"github.com/meigma/offline/internal/config"
	"github.com/meigma/offline/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the app through the offline cache",
	Long: `Serve the app through the offline cache.

SIGHUP reloads the config file; a changed cache_name registers a new
version, which is activated once no clients are connected.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(verbose, cfg.LogLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newNetwork(cfg config.Network) *offlinehttp.Client {
	opts := []offlinehttp.Option{offlinehttp.WithUserAgent(cfg.UserAgent)}
	if cfg.Timeout > 0 {
		opts = append(opts, offlinehttp.WithTimeout(cfg.Timeout))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, offlinehttp.WithHeader(k, v))
	}
	return offlinehttp.NewClient(opts...)
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()

	storage, closeStorage, err := server.OpenStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			logger.Warn("close storage", slog.Any("error", err))
		}
	}()

	opts := []offline.Option{offline.WithLogger(logger)}
	var srvOpts []server.Option
	if cfg.Metrics {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, offline.WithMetrics(offline.NewMetrics(registry)))
		srvOpts = append(srvOpts, server.WithMetrics(registry))
	}

	reg := offline.NewRegistration(storage, newNetwork(cfg.Network), opts...)
	if _, err := reg.Register(ctx, cfg.Offline()); err != nil {
		return fmt.Errorf("register %s: %w", cfg.CacheName, err)
	}

	srv, err := server.New(reg, cfg.Origin, append(srvOpts, server.WithLogger(logger))...)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", slog.String("addr", cfg.Listen), slog.String("origin", cfg.Origin))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		reg.Wait()
		return err
	})
	g.Go(func() error {
		reloadOnHangup(ctx, reg, logger)
		return nil
	})
	return g.Wait()
}

func reloadOnHangup(ctx context.Context, reg *offline.Registration, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := loadConfig()
			if err != nil {
				logger.Error("reload", slog.Any("error", err))
				continue
			}
			m, err := reg.Register(ctx, cfg.Offline())
			if err != nil {
				logger.Error("register", slog.String("cache", cfg.CacheName), slog.Any("error", err))
				continue
			}
			logger.Info("config reloaded", slog.String("cache", cfg.CacheName), slog.String("state", m.State().String()))
		}
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coffersTech/nanolog/datasource/internal/cluster"
	"github.com/coffersTech/nanolog/datasource/internal/config"
	"github.com/coffersTech/nanolog/datasource/internal/engine"
	"github.com/coffersTech/nanolog/datasource/internal/logging"
	"github.com/coffersTech/nanolog/datasource/internal/model"
	"github.com/coffersTech/nanolog/datasource/internal/server"
	"github.com/coffersTech/nanolog/datasource/internal/source/mock"
	"github.com/coffersTech/nanolog/datasource/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "nanolog-ds",
		Short:        "NanoLog data source: query, context and live tail over a log backend",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")

	root.AddCommand(newServeCmd(&configPath), newQueryCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cfg, logger)
		},
	}
}

func newQueryCmd(configPath *string) *cobra.Command {
	var (
		from, to time.Duration
		filter   string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a one-shot query against the configured source and print the response as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			src, closeSource, err := openSource(context.Background(), cfg.Source, logger)
			if err != nil {
				return err
			}
			defer closeSource()

			orch := engine.New(src.LogSource, cfg.Engine, engine.WithLogger(logger))
			now := time.Now()
			resp, err := orch.Query(cmd.Context(), model.QueryRequest{
				Targets: []model.QueryTarget{{ID: "A", FilterText: filter, ResultLimit: limit}},
				Range:   model.TimeRange{From: now.Add(-from).UnixMilli(), To: now.Add(-to).UnixMilli()},
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().DurationVar(&from, "from", time.Hour, "window start, relative to now")
	cmd.Flags().DurationVar(&to, "to", 0, "window end, relative to now")
	cmd.Flags().StringVarP(&filter, "filter", "q", "", "NanoQL filter text")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum records to return")
	return cmd
}

// setup loads and validates the configuration and builds the root logger.
func setup(path string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		return config.Config{}, nil, fmt.Errorf("invalid configuration: %d error(s)", len(errs))
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

type source struct {
	engine.LogSource
	engine.Pinger
	store *storage.Store
}

// openSource builds the configured LogSource. The returned func releases it.
func openSource(ctx context.Context, cfg config.SourceConfig, logger *zap.Logger) (source, func(), error) {
	switch cfg.Kind {
	case config.SourceStore:
		st, err := storage.Open(cfg.Store.DataDir, storage.Options{
			MaxTableRows: cfg.Store.MaxTableRows,
			Retention:    cfg.Store.Retention,
			Logger:       logger.Named("storage"),
		})
		if err != nil {
			return source{}, nil, fmt.Errorf("failed to open store: %w", err)
		}
		logger.Info("store opened", zap.String("data_dir", cfg.Store.DataDir), zap.Duration("retention", cfg.Store.Retention))

		cleanCtx, stopCleaner := context.WithCancel(ctx)
		if cfg.Store.Retention > 0 && cfg.Store.CleanupInterval > 0 {
			go st.RunCleaner(cleanCtx, cfg.Store.CleanupInterval)
		}

		closeFn := func() {
			stopCleaner()
			logger.Info("flushing memory to disk")
			if err := st.Close(); err != nil {
				logger.Error("final flush failed", zap.Error(err))
			}
		}
		return source{LogSource: st, Pinger: st, store: st}, closeFn, nil

	case config.SourceRemote:
		rs := cluster.NewRemoteSource(cfg.Remote.Nodes, cfg.Remote.Token, logger.Named("cluster"))
		if cfg.Remote.Timeout > 0 {
			rs.Client.Timeout = cfg.Remote.Timeout
		}
		logger.Info("remote source configured", zap.Strings("nodes", cfg.Remote.Nodes))
		return source{LogSource: rs, Pinger: rs}, func() {}, nil

	default:
		g := mock.NewGenerator()
		g.Latency = cfg.Mock.Latency
		logger.Info("mock source configured", zap.Duration("latency", g.Latency))
		return source{LogSource: g, Pinger: g}, func() {}, nil
	}
}

func serve(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, closeSource, err := openSource(ctx, cfg.Source, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	orch := engine.New(src.LogSource, cfg.Engine,
		engine.WithLogger(logger.Named("engine")),
		engine.WithMetrics(engine.NewMetrics(reg)),
	)

	opts := []server.Option{
		server.WithLogger(logger.Named("http")),
		server.WithPinger(src.Pinger),
		server.WithGatherer(reg),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	}
	if src.store != nil {
		opts = append(opts, server.WithStore(src.store))
	}
	srv := server.New(orch, opts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.ListenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	// streams are stopped; let their last fetches return before the source closes
	if err := orch.Drain(shutdownCtx); err != nil {
		logger.Warn("stream fetches still running at exit", zap.Error(err))
	}

	logger.Info("nanolog-ds exited gracefully")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/splitpay/internal/broadcast"
	"github.com/alfredjeanlab/splitpay/internal/config"
	"github.com/alfredjeanlab/splitpay/internal/events"
	"github.com/alfredjeanlab/splitpay/internal/export"
	"github.com/alfredjeanlab/splitpay/internal/lock"
	"github.com/alfredjeanlab/splitpay/internal/metrics"
	"github.com/alfredjeanlab/splitpay/internal/payment"
	"github.com/alfredjeanlab/splitpay/internal/provider"
	"github.com/alfredjeanlab/splitpay/internal/server"
	"github.com/alfredjeanlab/splitpay/internal/store"
	"github.com/alfredjeanlab/splitpay/internal/store/memory"
	"github.com/alfredjeanlab/splitpay/internal/store/postgres"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:               "serve",
	Short:             "Start the splitpay HTTP and gRPC server",
	GroupID:           "system",
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be set.
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(os.Stderr, cfg)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// serve runs the server until ctx is cancelled, then shuts everything down
// in reverse order of startup.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	bus, err := newBus(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Error("error closing status bus", "err", err)
		}
	}()

	policy, err := payment.ParsePolicy(cfg.Policy)
	if err != nil {
		return err
	}

	registry := broadcast.New(
		broadcast.WithSendTimeout(cfg.SendTimeout),
		broadcast.WithLogger(logger),
		broadcast.WithMetrics(m),
	)
	pub := events.NewStatusPublisher(registry, bus, events.WithLogger(logger), events.WithMetrics(m))

	proc := payment.NewProcessor(st, newProvider(cfg, logger), pub,
		payment.WithPolicy(policy),
		payment.WithProgressEvents(cfg.ProgressEvents),
		payment.WithLocker(locker),
		payment.WithLogger(logger),
		payment.WithMetrics(m),
		payment.WithTracerProvider(otel.GetTracerProvider()),
	)

	srv := server.New(proc, registry,
		server.WithLogger(logger),
		server.WithGatherer(reg),
		server.WithAuthToken(cfg.AuthToken),
	)
	if cfg.AuthToken == "" {
		logger.Warn("authentication disabled (SPLITPAY_AUTH_TOKEN not set)")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.NewHTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := srv.NewGRPCServer()

	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		if grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
	}

	scheduler := newExportScheduler(ctx, cfg, st, m, logger)
	if scheduler != nil {
		scheduler.Start()
		logger.Info("export scheduler started", "interval", cfg.ExportInterval)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if grpcLis != nil {
		g.Go(func() error {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(grpcLis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Close live clients first so streaming handlers return and the
		// servers can drain.
		registry.Shutdown()

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("export scheduler stopped")
		}

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	})

	logger.Info("splitpay server started",
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"policy", cfg.Policy,
		"serialize", cfg.Serialize,
	)
	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("using in-memory store (SPLITPAY_DATABASE_URL not set)")
		return memory.New(), nil
	}
	s, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("postgres store ready")
	return s, nil
}

func newProvider(cfg *config.Config, logger *slog.Logger) provider.Provider {
	if cfg.ProviderURL == "" {
		logger.Warn("using sandbox payment provider (SPLITPAY_PROVIDER_URL not set)")
		return provider.NewSandbox()
	}
	logger.Info("payment provider configured", "url", cfg.ProviderURL)
	return provider.NewHTTPProvider(cfg.ProviderURL, cfg.ProviderKey, cfg.ProviderTimeout)
}

func newLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (lock.Locker, func(), error) {
	switch cfg.Serialize {
	case "local":
		return lock.NewKeyedMutex(), func() {}, nil
	case "redis":
		rc, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("order serialization via redis")
		return lock.NewRedisLocker(rc, lock.WithLogger(logger)), func() { _ = rc.Close() }, nil
	default:
		return lock.Noop{}, func() {}, nil
	}
}

func newBus(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	var pubs events.MultiPublisher
	if cfg.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
		logger.Info("status events to NATS enabled", "nats_url", cfg.NATSURL)
	}
	if len(cfg.KafkaBrokers) > 0 {
		p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			_ = pubs.Close()
			return nil, err
		}
		pubs = append(pubs, p)
		logger.Info("status events to Kafka enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	switch len(pubs) {
	case 0:
		logger.Info("status bus disabled")
		return &events.NoopPublisher{}, nil
	case 1:
		return pubs[0], nil
	default:
		return pubs, nil
	}
}

func newExportScheduler(ctx context.Context, cfg *config.Config, src export.Source, m *metrics.Metrics, logger *slog.Logger) *export.Scheduler {
	if cfg.ExportInterval <= 0 {
		return nil
	}
	var dests []export.Destination
	if cfg.ExportS3Bucket != "" {
		d, err := export.NewS3Destination(ctx, cfg.ExportS3Bucket, cfg.ExportS3Key, cfg.ExportS3Region, cfg.ExportS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 export destination", "err", err)
		} else {
			dests = append(dests, d)
			logger.Info("S3 export destination enabled", "target", d.String())
		}
	}
	if len(dests) == 0 {
		logger.Warn("export interval set but no destination configured")
		return nil
	}
	return export.NewScheduler(src, dests, cfg.ExportInterval, export.WithLogger(logger), export.WithMetrics(m))
}

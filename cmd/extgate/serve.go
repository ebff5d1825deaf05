package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/extgate/internal/archive"
	"github.com/alfredjeanlab/extgate/internal/config"
	"github.com/alfredjeanlab/extgate/internal/events"
	"github.com/alfredjeanlab/extgate/internal/executor"
	"github.com/alfredjeanlab/extgate/internal/gate"
	"github.com/alfredjeanlab/extgate/internal/metrics"
	"github.com/alfredjeanlab/extgate/internal/policy"
	"github.com/alfredjeanlab/extgate/internal/queue"
	"github.com/alfredjeanlab/extgate/internal/server"
	"github.com/alfredjeanlab/extgate/internal/store"
	"github.com/alfredjeanlab/extgate/internal/store/memory"
	"github.com/alfredjeanlab/extgate/internal/store/postgres"
	"github.com/alfredjeanlab/extgate/internal/upstream"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the gateway",
	GroupID: "system",
	// Override PersistentPreRunE so we don't build an admin client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogFormat)
		slog.SetDefault(logger)

		// Queue store.
		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}

		// Event publisher: NATS when configured, always the SSE hub.
		hub := server.NewEventHub()
		var bus events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			bus = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			bus = &events.NoopPublisher{}
			logger.Info("events disabled (EXTGATE_NATS_URL not set)")
		}
		publisher := events.Multi(bus, hub)

		// Policy.
		doc, err := loadPolicy(cfg)
		if err != nil {
			publisher.Close()
			st.Close()
			return err
		}
		policies := policy.NewStore(policy.New(doc))
		logger.Info("policy loaded", "dry_run_deletes", doc.DryRunDeletes, "approvals", doc.Approvals)

		// Core components.
		m := metrics.New()
		clients := upstream.Registry{}
		for _, uc := range cfg.UpstreamConfigs() {
			clients[uc.Service] = upstream.NewHTTPClient(uc, m)
		}
		q := queue.New(st,
			queue.WithPublisher(publisher),
			queue.WithMetrics(m),
			queue.WithLogger(logger),
			queue.WithClaimLease(cfg.ClaimLease),
		)
		engine := gate.NewEngine(policies, q, publisher, m, logger)
		srv := server.New(server.Deps{
			Interceptor: engine.Interceptor(),
			Queue:       q,
			Executor:    executor.New(q, clients, publisher, m, logger),
			Policy:      policies,
			Clients:     clients,
			Hub:         hub,
			Publisher:   publisher,
			Metrics:     m,
			Logger:      logger,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Optional gRPC health endpoint.
		var grpcStop func()
		if cfg.GRPCAddr != "" {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				publisher.Close()
				st.Close()
				return err
			}
			grpcServer, healthServer := server.NewGRPCServer(cfg.AuthToken)
			go server.WatchHealth(ctx, healthServer, st, 10*time.Second)
			go func() {
				logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
				if err := grpcServer.Serve(lis); err != nil {
					logger.Error("gRPC server error", "err", err)
				}
			}()
			grpcStop = grpcServer.GracefulStop
		}

		// HTTP server.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Archive scheduler.
		var scheduler *archive.Scheduler
		if cfg.ArchiveEnabled() {
			dest, err := archive.NewS3Destination(ctx, archive.S3Config{
				Bucket:    cfg.ArchiveS3Bucket,
				Key:       cfg.ArchiveS3Key,
				Region:    cfg.ArchiveS3Region,
				Endpoint:  cfg.ArchiveS3Endpoint,
				Snapshots: cfg.ArchiveSnapshots,
			})
			if err != nil {
				logger.Error("failed to create S3 archive destination", "err", err)
			} else {
				scheduler = archive.NewScheduler(st, []archive.Destination{dest}, cfg.ArchiveInterval, logger)
				scheduler.Start()
				logger.Info("archive scheduler started", "interval", cfg.ArchiveInterval, "destination", dest.String())
			}
		}

		logger.Info("extgate started",
			"http_addr", cfg.HTTPAddr,
			"grpc_addr", cfg.GRPCAddr,
			"auth", cfg.AuthToken != "",
		)

		// SIGHUP reloads the policy; SIGINT or SIGTERM shuts down.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				reloadPolicy(cfg, policies, logger)
				continue
			}
			logger.Info("received signal, shutting down", "signal", sig)
			break
		}
		signal.Stop(sigCh)

		// Graceful shutdown.
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}

		if grpcStop != nil {
			grpcStop()
			logger.Info("gRPC server stopped")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		cancel()
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

func newLogger(format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("EXTGATE_DATABASE_URL not set, review queue is in memory and lost on restart")
		return memory.New(), nil
	}
	st, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("postgres store ready")
	return st, nil
}

// loadPolicy builds the startup policy from the environment, overlaid with
// the policy file when one is configured.
func loadPolicy(cfg *config.Config) (policy.Document, error) {
	doc := cfg.PolicyDocument()
	if cfg.PolicyFile == "" {
		return doc, nil
	}
	doc, err := policy.LoadFile(cfg.PolicyFile, doc)
	if err != nil {
		return policy.Document{}, fmt.Errorf("loading policy: %w", err)
	}
	return doc, nil
}

// reloadPolicy re-reads the policy sources and swaps the snapshot. A bad
// file keeps the current policy.
func reloadPolicy(cfg *config.Config, policies *policy.Store, logger *slog.Logger) {
	if cfg.PolicyFile == "" {
		logger.Info("SIGHUP ignored, EXTGATE_POLICY_FILE not set")
		return
	}
	doc, err := loadPolicy(cfg)
	if err != nil {
		logger.Error("policy reload failed, keeping current policy", "err", err)
		return
	}
	policies.Set(policy.New(doc))
	logger.Info("policy reloaded", "file", cfg.PolicyFile, "dry_run_deletes", doc.DryRunDeletes, "approvals", doc.Approvals)
}

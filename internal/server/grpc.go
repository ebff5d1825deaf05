package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name reported through the gRPC health service.
const ServiceName = "extgate"

// NewGRPCServer creates a gRPC server with standard interceptors and
// registers the health service and reflection. The returned health server
// starts out NOT_SERVING; run WatchHealth to keep it current.
func NewGRPCServer(authToken string) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor,
			StreamLoggingInterceptor,
			StreamAuthInterceptor(authToken),
		),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv, hs
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WatchHealth pings p every interval and updates hs until ctx is done. On
// return every service is marked NOT_SERVING.
func WatchHealth(ctx context.Context, hs *health.Server, p Pinger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := healthpb.HealthCheckResponse_SERVING
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if status != last {
			slog.Info("health status changed", "status", status.String(), "err", err)
			last = status
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(ServiceName, status)

		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

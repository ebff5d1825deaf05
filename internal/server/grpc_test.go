package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
)

type fakePinger struct {
	down atomic.Bool
}

func (p *fakePinger) Ping(context.Context) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func waitForStatus(t *testing.T, client healthpb.HealthClient, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last healthpb.HealthCheckResponse_ServingStatus
	for time.Now().Before(deadline) {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		if err == nil {
			last = resp.GetStatus()
			if last == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("health status = %v, want %v", last, want)
}

func TestGRPCHealth_FollowsStorePing(t *testing.T) {
	srv, hs := NewGRPCServer("secret")
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	pinger := &fakePinger{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go WatchHealth(ctx, hs, pinger, 20*time.Millisecond)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	// Health checks pass without a token.
	waitForStatus(t, client, healthpb.HealthCheckResponse_SERVING)

	pinger.down.Store(true)
	waitForStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)

	pinger.down.Store(false)
	waitForStatus(t, client, healthpb.HealthCheckResponse_SERVING)
}

func startGRPC(t *testing.T, token string) *grpc.ClientConn {
	t.Helper()
	srv, hs := NewGRPCServer(token)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func listServices(ctx context.Context, conn *grpc.ClientConn) (*rpb.ServerReflectionResponse, error) {
	stream, err := rpb.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
	if err != nil {
		return nil, err
	}
	// A rejected stream may already be closed; Recv reports its status.
	_ = stream.Send(&rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_ListServices{ListServices: "*"},
	})
	return stream.Recv()
}

func TestGRPCReflection_RequiresToken(t *testing.T) {
	conn := startGRPC(t, "secret-token")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := listServices(ctx, conn); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("reflection without token: err = %v, want Unauthenticated", err)
	}

	wrongCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer nope")
	if _, err := listServices(wrongCtx, conn); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("reflection with wrong token: err = %v, want Unauthenticated", err)
	}

	authCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer secret-token")
	resp, err := listServices(authCtx, conn)
	if err != nil {
		t.Fatalf("reflection with token: %v", err)
	}
	if len(resp.GetListServicesResponse().GetService()) == 0 {
		t.Fatalf("reflection listed no services: %v", resp)
	}
}

func TestGRPCHealthWatch_NoToken(t *testing.T) {
	conn := startGRPC(t, "secret-token")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	watch, err := healthpb.NewHealthClient(conn).Watch(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	resp, err := watch.Recv()
	if err != nil {
		t.Fatalf("Watch Recv: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", resp.GetStatus())
	}
}

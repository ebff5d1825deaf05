package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// healthMethodPrefix covers Check, List and Watch of the standard health
// service. Health checks never carry a token.
const healthMethodPrefix = "/grpc.health.v1.Health/"

var (
	errMissingAuth   = errors.New("missing authorization header")
	errInvalidScheme = errors.New("invalid authorization scheme")
	errInvalidToken  = errors.New("invalid token")
)

// checkBearer validates an Authorization header value against token.
func checkBearer(header, token string) error {
	if header == "" {
		return errMissingAuth
	}
	provided, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return errInvalidScheme
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
		return errInvalidToken
	}
	return nil
}

// authorizeRPC checks the bearer token carried in the incoming metadata of
// ctx. Health methods and an empty token always pass.
func authorizeRPC(ctx context.Context, method, token string) error {
	if token == "" || strings.HasPrefix(method, healthMethodPrefix) {
		return nil
	}
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
	}
	if err := checkBearer(header, token); err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	return nil
}

func logRPC(method, kind string, start time.Time, err error) {
	attrs := []any{"method", method, "kind", kind, "duration", time.Since(start)}
	if err != nil {
		slog.Error("rpc completed", append(attrs, "err", err)...)
		return
	}
	slog.Info("rpc completed", attrs...)
}

// recoverRPC turns a handler panic into codes.Internal. It must be deferred.
func recoverRPC(method string, err *error) {
	if r := recover(); r != nil {
		slog.Error("panic recovered in gRPC handler",
			"method", method,
			"panic", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)
		*err = status.Error(codes.Internal, "internal server error")
	}
}

// LoggingInterceptor logs method, duration and error of each unary RPC.
func LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logRPC(info.FullMethod, "unary", start, err)
	return resp, err
}

// StreamLoggingInterceptor logs each streaming RPC when it ends.
func StreamLoggingInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	logRPC(info.FullMethod, "stream", start, err)
	return err
}

// RecoveryInterceptor keeps a panicking unary handler from taking the
// process down.
func RecoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer recoverRPC(info.FullMethod, &err)
	return handler(ctx, req)
}

// StreamRecoveryInterceptor is RecoveryInterceptor for streaming RPCs.
func StreamRecoveryInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer recoverRPC(info.FullMethod, &err)
	return handler(srv, ss)
}

// AuthInterceptor requires "authorization: Bearer <token>" metadata on unary
// RPCs. An empty token disables the check; health methods are exempt.
func AuthInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := authorizeRPC(ctx, info.FullMethod, token); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor applies the AuthInterceptor check to streaming RPCs,
// which include server reflection and health Watch.
func StreamAuthInterceptor(token string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := authorizeRPC(ss.Context(), info.FullMethod, token); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// AuthMiddleware requires the bearer token on every HTTP route except
// GET /v1/health. An empty token disables the check.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		if err := checkBearer(r.Header.Get("Authorization"), token); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

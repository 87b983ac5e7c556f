package handler

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// GRPCServer exposes the standard gRPC health service and reflection. The
// reported status follows the storage ping.
type GRPCServer struct {
	server      *grpc.Server
	health      *health.Server
	serviceName string
	ping        func(ctx context.Context) error
	logger      zerolog.Logger
}

// NewGRPCServer creates a gRPC server reporting health for serviceName and
// for the server as a whole. A nil ping always reports SERVING.
func NewGRPCServer(serviceName string, ping func(ctx context.Context) error, logger zerolog.Logger) *GRPCServer {
	logger = logger.With().Str("handler", "grpc").Logger()

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(unaryLogger(logger)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	g := &GRPCServer{
		server:      srv,
		health:      hs,
		serviceName: serviceName,
		ping:        ping,
		logger:      logger,
	}
	g.setStatus(healthpb.HealthCheckResponse_SERVING)
	return g
}

// Serve accepts connections on lis until Stop or GracefulStop.
func (g *GRPCServer) Serve(lis net.Listener) error {
	return g.server.Serve(lis)
}

// GracefulStop marks the service NOT_SERVING and drains in-flight calls.
func (g *GRPCServer) GracefulStop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}

// WatchHealth re-checks storage every interval until ctx is done.
func (g *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration) {
	if g.ping == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		g.CheckHealth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckHealth runs the storage ping once and publishes the result.
func (g *GRPCServer) CheckHealth(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if g.ping != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := g.ping(pingCtx)
		cancel()
		if err != nil {
			g.logger.Warn().Err(err).Msg("Storage health check failed")
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	g.setStatus(st)
	return st
}

func (g *GRPCServer) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	g.health.SetServingStatus("", st)
	if g.serviceName != "" {
		g.health.SetServingStatus(g.serviceName, st)
	}
}

func unaryLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}
